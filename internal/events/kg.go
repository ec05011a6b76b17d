package events

import (
	"github.com/cugtyt/kg-explorer/pkg/api"
)

// ErrorPayload carries a failed call. Err is only set in-process; the
// exported fields survive serialization.
type ErrorPayload struct {
	Err    error  `json:"-"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error"`
}

func NewErrorPayload(err error) ErrorPayload {
	p := ErrorPayload{Err: err, Status: api.StatusCode(err)}
	if err != nil {
		p.Error = err.Error()
	}
	return p
}

// UserMessage resolves the payload to a display string.
func (p ErrorPayload) UserMessage(fallback string) string {
	if p.Err == nil {
		if p.Status == 404 {
			return api.NotFoundMessage
		}
		return fallback
	}
	return api.UserMessage(p.Err, fallback)
}

// GraphExtractedEvent - extraction finished and returned a graph
type GraphExtractedEvent struct {
	RequestID string               `json:"request_id"`
	Result    api.GenerateResponse `json:"result"`
}

func (e GraphExtractedEvent) EventName() string { return KGExtractedSuccessEventName }

// GraphExtractErrorEvent - extraction failed
type GraphExtractErrorEvent struct {
	RequestID string `json:"request_id"`
	ErrorPayload
}

func (e GraphExtractErrorEvent) EventName() string { return KGExtractedErrorEventName }

type QueryAnsweredEvent struct {
	RequestID string            `json:"request_id"`
	Result    api.QueryResponse `json:"result"`
}

func (e QueryAnsweredEvent) EventName() string { return KGQuerySuccessEventName }

type QueryErrorEvent struct {
	RequestID string `json:"request_id"`
	Query     string `json:"query"`
	ErrorPayload
}

func (e QueryErrorEvent) EventName() string { return KGQueryErrorEventName }

type AllowedTypesFetchedEvent struct {
	RequestID string           `json:"request_id"`
	Result    api.AllowedTypes `json:"result"`
}

func (e AllowedTypesFetchedEvent) EventName() string { return AllowedTypesFetchedSuccessEventName }

type AllowedTypesErrorEvent struct {
	RequestID string `json:"request_id"`
	ErrorPayload
}

func (e AllowedTypesErrorEvent) EventName() string { return AllowedTypesFetchedErrorEventName }

type ConversationClearedEvent struct {
	RequestID string                        `json:"request_id"`
	Result    api.ClearConversationResponse `json:"result"`
}

func (e ConversationClearedEvent) EventName() string { return ConversationClearedSuccessEventName }

type ConversationClearErrorEvent struct {
	RequestID string `json:"request_id"`
	ErrorPayload
}

func (e ConversationClearErrorEvent) EventName() string { return ConversationClearedErrorEventName }
