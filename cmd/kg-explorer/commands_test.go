package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cugtyt/kg-explorer/pkg/api"
)

func TestSchemaCommand_SingleList(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case api.AllowedPredicatesPath:
			w.Write([]byte(`["works_at","located_in"]`))
		case api.AllowedMetricTypesPath:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detail":"metrics disabled"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)

	a := &app{client: api.NewClient(ts.URL)}
	run := func(flag string) (string, error) {
		cmd := newSchemaCommand()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{flag})
		cmd.SetContext(context.WithValue(context.Background(), contextKey{}, a))
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run("--predicates")
	require.NoError(t, err)
	assert.Equal(t, "Predicates:\n  - works_at\n  - located_in\n", out)

	_, err = run("--metrics")
	assert.EqualError(t, err, "metrics disabled")
}
