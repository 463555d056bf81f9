package domain

// Document is one unit of a session corpus. Documents are created by the
// ingestion side and are immutable once indexed; retrieval only reads them.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
