package vector

import (
	"fmt"
	"strings"
)

// Payload keys shared by every store. Filters address records by these keys.
const (
	FieldEngine        = "dms_engine"
	FieldDocID         = "dms_doc_id"
	FieldChunkIndex    = "chunk_index"
	FieldOwnerID       = "owner_id"
	FieldTitle         = "title"
	FieldChunkText     = "chunk_text"
	FieldCreated       = "created"
	FieldLabelIDs      = "label_ids"
	FieldLabelNames    = "label_names"
	FieldCategoryID    = "category_id"
	FieldCategoryName  = "category_name"
	FieldTypeID        = "type_id"
	FieldTypeName      = "type_name"
	FieldOwnerUsername = "owner_username"
	FieldContentHash   = "content_hash"
)

// Payload is the metadata stored next to every vector. Owner is not optional.
type Payload struct {
	Engine        string   `json:"dms_engine"`
	DocID         int      `json:"dms_doc_id"`
	ChunkIndex    int      `json:"chunk_index"`
	OwnerID       int      `json:"owner_id"`
	Title         string   `json:"title"`
	ChunkText     string   `json:"chunk_text"`
	Created       string   `json:"created,omitempty"`
	LabelIDs      []int    `json:"label_ids"`
	LabelNames    []string `json:"label_names"`
	CategoryID    *int     `json:"category_id,omitempty"`
	CategoryName  string   `json:"category_name,omitempty"`
	TypeID        *int     `json:"type_id,omitempty"`
	TypeName      string   `json:"type_name,omitempty"`
	OwnerUsername string   `json:"owner_username,omitempty"`
	ContentHash   string   `json:"content_hash"`
}

type Record struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// StoredRecord is what a scroll returns: the record id and the document it belongs to.
type StoredRecord struct {
	ID    string
	DocID int
}

// ScrollPage is one page of a filtered scan. An empty NextOffset ends the scan.
type ScrollPage struct {
	Records    []StoredRecord
	NextOffset string
}

type ScoredRecord struct {
	ID      string
	Score   float32
	Payload Payload
}

// Condition is an exact match on a payload key.
type Condition struct {
	Key   string
	Value any
}

// Filter matches records satisfying all conditions.
type Filter struct {
	Must []Condition
}

func (f Filter) And(conds ...Condition) Filter {
	must := make([]Condition, 0, len(f.Must)+len(conds))
	must = append(must, f.Must...)
	must = append(must, conds...)
	return Filter{Must: must}
}

func (f Filter) Has(key string) bool {
	for _, c := range f.Must {
		if c.Key == key {
			return true
		}
	}
	return false
}

func EngineFilter(engine string) Filter {
	return Filter{Must: []Condition{{Key: FieldEngine, Value: engine}}}
}

func DocumentFilter(engine string, docID int) Filter {
	return EngineFilter(engine).And(Condition{Key: FieldDocID, Value: docID})
}

func OwnerFilter(ownerID int) Filter {
	return Filter{Must: []Condition{{Key: FieldOwnerID, Value: ownerID}}}
}

type Distance string

const (
	DistanceCosine Distance = "Cosine"
	DistanceDot    Distance = "Dot"
	DistanceEuclid Distance = "Euclid"
)

func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(s) {
	case "", "cosine":
		return DistanceCosine, nil
	case "dot":
		return DistanceDot, nil
	case "euclid":
		return DistanceEuclid, nil
	}
	return "", fmt.Errorf("unknown vector distance %q", s)
}
