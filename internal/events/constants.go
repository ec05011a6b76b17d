package events

// Topic is the single bus topic carrying knowledge graph activity.
const Topic = "app__kg"

const (
	KGExtractedSuccessEventName = "KG_EXTRACTED_SUCCESS"
	KGExtractedErrorEventName   = "KG_EXTRACTED_ERROR"

	KGQuerySuccessEventName = "KG_QUERY_SUCCESS"
	KGQueryErrorEventName   = "KG_QUERY_ERROR"

	AllowedTypesFetchedSuccessEventName = "ALLOWED_TYPES_FETCHED_SUCCESS"
	AllowedTypesFetchedErrorEventName   = "ALLOWED_TYPES_FETCHED_ERROR"

	ConversationClearedSuccessEventName = "CONVERSATION_CLEARED_SUCCESS"
	ConversationClearedErrorEventName   = "CONVERSATION_CLEARED_ERROR"
)

// Names lists every event published on Topic.
func Names() []string {
	return []string{
		KGExtractedSuccessEventName,
		KGExtractedErrorEventName,
		KGQuerySuccessEventName,
		KGQueryErrorEventName,
		AllowedTypesFetchedSuccessEventName,
		AllowedTypesFetchedErrorEventName,
		ConversationClearedSuccessEventName,
		ConversationClearedErrorEventName,
	}
}
