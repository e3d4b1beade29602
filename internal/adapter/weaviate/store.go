package weaviate

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"ragbridge/internal/vector"
)

const Engine = "weaviate"

const DefaultClass = "DocumentChunk"

type Store struct {
	client    *weaviate.Client
	className string
}

func NewStore(client *weaviate.Client, className string) *Store {
	if className == "" {
		className = DefaultClass
	}
	return &Store{client: client, className: className}
}

// Write upserts records as one object batch. Object ids are the record ids,
// so writing the same record twice replaces it.
func (s *Store) Write(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	objs := make([]*models.Object, len(records))
	for i, r := range records {
		objs[i] = &models.Object{
			Class:      s.className,
			ID:         strfmt.UUID(r.ID),
			Properties: toProperties(r.Payload),
			Vector:     models.C11yVector(r.Vector),
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, o := range resp {
		if o.Result == nil || o.Result.Errors == nil {
			continue
		}
		for _, e := range o.Result.Errors.Error {
			errs = append(errs, fmt.Errorf("object %s: %s", o.ID, e.Message))
		}
	}
	return errors.Join(errs...)
}

// DefaultScrollLimit is the cursor page size when the caller passes none.
const DefaultScrollLimit = 1000

// Scroll walks the class with the cursor API, so it is not bounded by
// QUERY_MAXIMUM_RESULTS. Cursor queries cannot carry a where filter; f is
// matched against each page here and pages without a match are skipped.
// offset is the id of the last object already seen.
func (s *Store) Scroll(ctx context.Context, f vector.Filter, limit int, offset string) (*vector.ScrollPage, error) {
	if limit <= 0 {
		limit = DefaultScrollLimit
	}

	fields := []graphql.Field{{Name: vector.PropertyName(vector.FieldDocID)}}
	for _, c := range f.Must {
		if c.Key != vector.FieldDocID {
			fields = append(fields, graphql.Field{Name: vector.PropertyName(c.Key)})
		}
	}
	fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}})

	after := offset
	page := &vector.ScrollPage{Records: []vector.StoredRecord{}}
	for {
		get := s.client.GraphQL().Get().
			WithClassName(s.className).
			WithLimit(limit).
			WithFields(fields...)
		if after != "" {
			get = get.WithAfter(after)
		}

		res, err := get.Do(ctx)
		if err != nil {
			return nil, err
		}
		if len(res.Errors) > 0 {
			return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
		}

		objs := s.objects(res.Data, "Get")
		for _, props := range objs {
			after = additionalString(props, "id")
			if !matches(props, f) {
				continue
			}
			page.Records = append(page.Records, vector.StoredRecord{
				ID:    after,
				DocID: intProp(props, vector.PropertyName(vector.FieldDocID)),
			})
		}
		if len(objs) < limit || after == "" {
			return page, nil
		}
		if len(page.Records) > 0 {
			page.NextOffset = after
			return page, nil
		}
	}
}

// matches reports whether props satisfy every condition of f. GraphQL
// numbers arrive as float64.
func matches(props map[string]interface{}, f vector.Filter) bool {
	for _, c := range f.Must {
		got := props[vector.PropertyName(c.Key)]
		switch v := c.Value.(type) {
		case int:
			n, ok := got.(float64)
			if !ok || int(n) != v {
				return false
			}
		case int64:
			n, ok := got.(float64)
			if !ok || int64(n) != v {
				return false
			}
		case bool:
			b, ok := got.(bool)
			if !ok || b != v {
				return false
			}
		default:
			if got != fmt.Sprint(v) {
				return false
			}
		}
	}
	return true
}

func (s *Store) DeleteByFilter(ctx context.Context, f vector.Filter) error {
	where := toWhere(f)
	if where == nil {
		return errors.New("refusing to delete without a filter")
	}
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.className).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	return err
}

func (s *Store) CollectionExists(ctx context.Context) (bool, error) {
	return s.ClassExists(ctx, s.className)
}

// CreateCollection ensures the chunk class. Weaviate learns the vector size
// from the first write, so vectorSize only guards against misconfiguration.
func (s *Store) CreateCollection(ctx context.Context, vectorSize int, distance vector.Distance) error {
	if vectorSize <= 0 {
		return fmt.Errorf("weaviate: invalid vector size %d", vectorSize)
	}
	return vector.EnsureSchema(ctx, s, s.className, distance)
}

// Search runs a nearVector query restricted by f. Score is 1 - distance.
func (s *Store) Search(ctx context.Context, vec []float32, f vector.Filter, limit int) ([]vector.ScoredRecord, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := make([]graphql.Field, 0, len(vector.Properties())+1)
	for _, p := range vector.Properties() {
		fields = append(fields, graphql.Field{Name: p.Name})
	}
	fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}})

	get := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithNearVector(nearVector).
		WithLimit(limit).
		WithFields(fields...)
	if where := toWhere(f); where != nil {
		get = get.WithWhere(where)
	}

	res, err := get.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var results []vector.ScoredRecord
	for _, props := range s.objects(res.Data, "Get") {
		var score float32
		if add, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := add["distance"].(float64); ok {
				score = float32(1 - d)
			}
		}
		results = append(results, vector.ScoredRecord{
			ID:      additionalString(props, "id"),
			Score:   score,
			Payload: fromProperties(props),
		})
	}
	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	objs := s.objects(res.Data, "Aggregate")
	if len(objs) == 0 {
		return 0, nil
	}
	if meta, ok := objs[0]["meta"].(map[string]interface{}); ok {
		if c, ok := meta["count"].(float64); ok {
			return int(c), nil
		}
	}
	return 0, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return errors.New("weaviate is not ready")
	}
	return nil
}

// Schema operations used by vector.EnsureSchema.

func (s *Store) ClassExists(ctx context.Context, className string) (bool, error) {
	return s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (s *Store) CreateClass(ctx context.Context, class *models.Class) error {
	return s.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (s *Store) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return s.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (s *Store) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return s.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}

func (s *Store) objects(data map[string]models.JSONObject, op string) []map[string]interface{} {
	section, ok := data[op].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := section[s.className].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}

func toWhere(f vector.Filter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	for _, c := range f.Must {
		w := filters.Where().
			WithPath([]string{vector.PropertyName(c.Key)}).
			WithOperator(filters.Equal)
		switch v := c.Value.(type) {
		case int:
			w = w.WithValueInt(int64(v))
		case int64:
			w = w.WithValueInt(v)
		case bool:
			w = w.WithValueBoolean(v)
		default:
			w = w.WithValueText(fmt.Sprint(v))
		}
		operands = append(operands, w)
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

func toProperties(p vector.Payload) map[string]interface{} {
	props := map[string]interface{}{
		vector.PropertyName(vector.FieldEngine):      p.Engine,
		vector.PropertyName(vector.FieldDocID):       p.DocID,
		vector.PropertyName(vector.FieldChunkIndex):  p.ChunkIndex,
		vector.PropertyName(vector.FieldOwnerID):     p.OwnerID,
		vector.PropertyName(vector.FieldTitle):       p.Title,
		vector.PropertyName(vector.FieldChunkText):   p.ChunkText,
		vector.PropertyName(vector.FieldContentHash): p.ContentHash,
	}
	if p.Created != "" {
		props[vector.PropertyName(vector.FieldCreated)] = p.Created
	}
	if len(p.LabelIDs) > 0 {
		props[vector.PropertyName(vector.FieldLabelIDs)] = p.LabelIDs
		props[vector.PropertyName(vector.FieldLabelNames)] = p.LabelNames
	}
	if p.CategoryID != nil {
		props[vector.PropertyName(vector.FieldCategoryID)] = *p.CategoryID
		props[vector.PropertyName(vector.FieldCategoryName)] = p.CategoryName
	}
	if p.TypeID != nil {
		props[vector.PropertyName(vector.FieldTypeID)] = *p.TypeID
		props[vector.PropertyName(vector.FieldTypeName)] = p.TypeName
	}
	if p.OwnerUsername != "" {
		props[vector.PropertyName(vector.FieldOwnerUsername)] = p.OwnerUsername
	}
	return props
}

func fromProperties(props map[string]interface{}) vector.Payload {
	p := vector.Payload{
		Engine:        strProp(props, vector.PropertyName(vector.FieldEngine)),
		DocID:         intProp(props, vector.PropertyName(vector.FieldDocID)),
		ChunkIndex:    intProp(props, vector.PropertyName(vector.FieldChunkIndex)),
		OwnerID:       intProp(props, vector.PropertyName(vector.FieldOwnerID)),
		Title:         strProp(props, vector.PropertyName(vector.FieldTitle)),
		ChunkText:     strProp(props, vector.PropertyName(vector.FieldChunkText)),
		Created:       strProp(props, vector.PropertyName(vector.FieldCreated)),
		CategoryName:  strProp(props, vector.PropertyName(vector.FieldCategoryName)),
		TypeName:      strProp(props, vector.PropertyName(vector.FieldTypeName)),
		OwnerUsername: strProp(props, vector.PropertyName(vector.FieldOwnerUsername)),
		ContentHash:   strProp(props, vector.PropertyName(vector.FieldContentHash)),
	}
	if v, ok := props[vector.PropertyName(vector.FieldCategoryID)].(float64); ok {
		id := int(v)
		p.CategoryID = &id
	}
	if v, ok := props[vector.PropertyName(vector.FieldTypeID)].(float64); ok {
		id := int(v)
		p.TypeID = &id
	}
	if ids, ok := props[vector.PropertyName(vector.FieldLabelIDs)].([]interface{}); ok {
		for _, id := range ids {
			if f, ok := id.(float64); ok {
				p.LabelIDs = append(p.LabelIDs, int(f))
			}
		}
	}
	if names, ok := props[vector.PropertyName(vector.FieldLabelNames)].([]interface{}); ok {
		for _, n := range names {
			if s, ok := n.(string); ok {
				p.LabelNames = append(p.LabelNames, s)
			}
		}
	}
	return p
}

func strProp(props map[string]interface{}, name string) string {
	s, _ := props[name].(string)
	return s
}

// intProp reads a GraphQL number, which decodes as float64.
func intProp(props map[string]interface{}, name string) int {
	f, _ := props[name].(float64)
	return int(f)
}

func additionalString(props map[string]interface{}, name string) string {
	add, ok := props["_additional"].(map[string]interface{})
	if !ok {
		return ""
	}
	s, _ := add[name].(string)
	return s
}
