package job

import "time"

// Job is a document sync that failed and waits for a retry. There is at most
// one per document; a repeated failure bumps Retries.
type Job struct {
	ID         string    `json:"id"`
	Engine     string    `json:"dms_engine"`
	DocumentID int       `json:"document_id"`
	Error      string    `json:"error"`
	Retries    int       `json:"retries"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
