package worker

// SyncDocumentPayload is the body of a sync.document message.
type SyncDocumentPayload struct {
	DocumentID    int    `json:"document_id"`
	CorrelationID string `json:"correlation_id"`
}

// SyncFullPayload is the body of a sync.full message.
type SyncFullPayload struct {
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id"`
}
