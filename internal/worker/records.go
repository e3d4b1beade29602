package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"ragbridge/internal/dms"
	"ragbridge/internal/text"
	"ragbridge/internal/vector"
)

var (
	ErrMissingOwner   = errors.New("document has no owner")
	ErrVectorMismatch = errors.New("vectors do not match chunks")
)

// BuildRecords pairs chunks with their vectors and attaches the document
// metadata. It is the only way records are made, so every record carries an owner.
func BuildRecords(engine string, doc dms.Document, chunks []text.Chunk, vectors [][]float32) ([]vector.Record, error) {
	if doc.OwnerID == nil {
		return nil, fmt.Errorf("document %d: %w", doc.ID, ErrMissingOwner)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("document %d: %d vectors for %d chunks: %w", doc.ID, len(vectors), len(chunks), ErrVectorMismatch)
	}
	for i, v := range vectors {
		if len(v) == 0 || len(v) != len(vectors[0]) {
			return nil, fmt.Errorf("document %d: vector %d has %d dimensions: %w", doc.ID, i, len(v), ErrVectorMismatch)
		}
	}

	base := basePayload(engine, doc)
	records := make([]vector.Record, len(chunks))
	for i, c := range chunks {
		p := base
		p.ChunkIndex = c.Index
		p.ChunkText = c.Text
		records[i] = vector.Record{
			ID:      PointID(engine, doc.ID, c.Index),
			Vector:  vectors[i],
			Payload: p,
		}
	}
	return records, nil
}

func basePayload(engine string, doc dms.Document) vector.Payload {
	p := vector.Payload{
		Engine:      engine,
		DocID:       doc.ID,
		OwnerID:     *doc.OwnerID,
		Title:       doc.Title,
		LabelIDs:    []int{},
		LabelNames:  []string{},
		CategoryID:  doc.CategoryID,
		TypeID:      doc.TypeID,
		ContentHash: ContentHash(doc),
	}
	if doc.LabelIDs != nil {
		p.LabelIDs = doc.LabelIDs
	}
	for _, l := range doc.Labels {
		if l.Name != "" {
			p.LabelNames = append(p.LabelNames, l.Name)
		}
	}
	if doc.Category != nil {
		p.CategoryName = doc.Category.Name
	}
	if doc.Type != nil {
		p.TypeName = doc.Type.Name
	}
	if doc.Owner != nil {
		p.OwnerUsername = doc.Owner.Username
	}
	if doc.Created != nil {
		p.Created = doc.Created.Format(time.DateOnly)
	}
	return p
}

// ContentHash is a SHA-256 hex digest over the document content and the
// metadata stored with its records.
func ContentHash(doc dms.Document) string {
	ref := func(id *int) string {
		if id == nil {
			return ""
		}
		return strconv.Itoa(*id)
	}
	labels := slices.Clone(doc.LabelIDs)
	slices.Sort(labels)
	labelStrs := make([]string, len(labels))
	for i, l := range labels {
		labelStrs[i] = strconv.Itoa(l)
	}
	created := ""
	if doc.Created != nil {
		created = doc.Created.Format(time.DateOnly)
	}

	h := sha256.New()
	for _, part := range []string{
		doc.Content,
		doc.Title,
		ref(doc.OwnerID),
		ref(doc.CategoryID),
		ref(doc.TypeID),
		strings.Join(labelStrs, ","),
		created,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
