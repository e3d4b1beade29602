package paperless

import (
	"time"

	"ragbridge/internal/dms"
)

type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

type apiNamed struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type apiUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

type apiDocument struct {
	ID               int    `json:"id"`
	Correspondent    *int   `json:"correspondent"`
	DocumentType     *int   `json:"document_type"`
	Title            string `json:"title"`
	Content          string `json:"content"`
	Tags             []int  `json:"tags"`
	Created          string `json:"created"`
	CreatedDate      string `json:"created_date"`
	Owner            *int   `json:"owner"`
	MimeType         string `json:"mime_type"`
	OriginalFileName string `json:"original_file_name"`
}

func (d apiDocument) toDocument() dms.Document {
	return dms.Document{
		Engine:     Engine,
		ID:         d.ID,
		Title:      d.Title,
		Content:    d.Content,
		OwnerID:    d.Owner,
		CategoryID: d.Correspondent,
		TypeID:     d.DocumentType,
		LabelIDs:   d.Tags,
		Created:    parseCreated(d.CreatedDate, d.Created),
		MimeType:   d.MimeType,
		FileName:   d.OriginalFileName,
	}
}

// parseCreated accepts a plain date or an RFC 3339 timestamp, preferring the first non-empty value.
func parseCreated(values ...string) *time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.DateOnly, v); err == nil {
			return &t
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return &t
		}
		if len(v) >= len(time.DateOnly) {
			if t, err := time.Parse(time.DateOnly, v[:len(time.DateOnly)]); err == nil {
				return &t
			}
		}
	}
	return nil
}
