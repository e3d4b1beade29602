package config

const (
	// TopicSyncDocument carries single document sync requests from the DMS webhook.
	TopicSyncDocument = "sync.document"

	// TopicSyncFull triggers a full sync pass with orphan reconciliation.
	TopicSyncFull = "sync.full"
)
