package api

import (
	"encoding/json"
	"strings"
)

// GenerateRequest is the body of POST /api/generate-knowledge-graph.
type GenerateRequest struct {
	Text string `json:"text"`
}

// GenerateResponse carries the extracted graph. VisualGraphNodes is kept raw
// because the service may send it either as an object or as a JSON-encoded
// string.
type GenerateResponse struct {
	KG               json.RawMessage `json:"kg"`
	FactualTriples   string          `json:"factual_triples,omitempty"`
	VisualGraphNodes json.RawMessage `json:"visual_graph_nodes,omitempty"`
}

// AllowedTypes is the extraction schema advertised by the service.
type AllowedTypes struct {
	EntityTypes    []string `json:"entity_types,omitempty"`
	PredicateTypes []string `json:"predicate_types,omitempty"`
	MetricTypes    []string `json:"metric_types,omitempty"`
}

type QueryRequest struct {
	Query string `json:"query"`
}

type QueryResponse struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

type ClearConversationResponse struct {
	Message string `json:"message,omitempty"`
}

// ErrorBody is the structured body of a failed response. Detail is a string
// for application errors but a list for request validation errors.
type ErrorBody struct {
	Detail  json.RawMessage `json:"detail,omitempty"`
	Message string          `json:"message,omitempty"`
}

// DetailText renders Detail for display. A string is returned as is; a
// validation list such as [{"loc":[...],"msg":"..."}] becomes its messages
// joined by "; ".
func (b *ErrorBody) DetailText() string {
	if len(b.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Detail, &s); err == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(b.Detail, &items); err != nil {
		return ""
	}
	msgs := make([]string, 0, len(items))
	for _, item := range items {
		if item.Msg != "" {
			msgs = append(msgs, item.Msg)
		}
	}
	return strings.Join(msgs, "; ")
}
