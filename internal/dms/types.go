// Package dms holds the document model shared by every document source.
package dms

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("document not found")

type Owner struct {
	ID       int
	Username string
}

type Label struct {
	ID   int
	Name string
}

type Category struct {
	ID   int
	Name string
}

type DocumentType struct {
	ID   int
	Name string
}

// Document is a DMS document with its references resolved where possible.
// A nil OwnerID means the DMS reported no owner.
type Document struct {
	Engine     string
	ID         int
	Title      string
	Content    string
	OwnerID    *int
	Owner      *Owner
	CategoryID *int
	Category   *Category
	TypeID     *int
	Type       *DocumentType
	LabelIDs   []int
	Labels     []Label
	Created    *time.Time
	MimeType   string
	FileName   string
}

// Snapshot is an immutable view of the DMS taken by one cache refresh.
type Snapshot struct {
	Version    uint64
	TakenAt    time.Time
	Documents  []Document
	Owners     map[int]Owner
	Labels     map[int]Label
	Categories map[int]Category
	Types      map[int]DocumentType
	// Partial names the reference collections that could not be loaded.
	Partial []string
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		TakenAt:    time.Now(),
		Owners:     make(map[int]Owner),
		Labels:     make(map[int]Label),
		Categories: make(map[int]Category),
		Types:      make(map[int]DocumentType),
	}
}

// Enrich resolves the references of d against the snapshot. Unknown
// references are left unresolved.
func (s *Snapshot) Enrich(d Document) Document {
	if d.OwnerID != nil {
		if o, ok := s.Owners[*d.OwnerID]; ok {
			d.Owner = &o
		}
	}
	if d.CategoryID != nil {
		if c, ok := s.Categories[*d.CategoryID]; ok {
			d.Category = &c
		}
	}
	if d.TypeID != nil {
		if t, ok := s.Types[*d.TypeID]; ok {
			d.Type = &t
		}
	}
	d.Labels = nil
	for _, id := range d.LabelIDs {
		if l, ok := s.Labels[id]; ok {
			d.Labels = append(d.Labels, l)
		}
	}
	return d
}

// DocumentIDs returns the ids of all listed documents.
func (s *Snapshot) DocumentIDs() map[int]struct{} {
	ids := make(map[int]struct{}, len(s.Documents))
	for _, d := range s.Documents {
		ids[d.ID] = struct{}{}
	}
	return ids
}
