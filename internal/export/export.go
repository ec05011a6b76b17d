// Package export renders the current graph and triples for download or the
// clipboard.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var ErrNothingToExport = errors.New("nothing to export")

func GraphFileName(t time.Time) string {
	return "knowledge-graph-" + t.Format(time.DateOnly) + ".json"
}

func TriplesFileName(t time.Time) string {
	return "factual-triples-" + t.Format(time.DateOnly) + ".txt"
}

// WriteGraphJSON writes kg re-indented with two spaces.
func WriteGraphJSON(w io.Writer, kg json.RawMessage) error {
	kg = bytes.TrimSpace(kg)
	if len(kg) == 0 || bytes.Equal(kg, []byte("null")) {
		return ErrNothingToExport
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, kg, "", "  "); err != nil {
		return fmt.Errorf("failed to indent graph: %w", err)
	}
	buf.WriteByte('\n')

	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write graph: %w", err)
	}
	return nil
}

func WriteTriples(w io.Writer, triples string) error {
	if strings.TrimSpace(triples) == "" {
		return ErrNothingToExport
	}
	if _, err := io.WriteString(w, triples); err != nil {
		return fmt.Errorf("failed to write triples: %w", err)
	}
	return nil
}
