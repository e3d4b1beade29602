package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the Weaviate schema operations EnsureSchema needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// Weaviate property names for the payload keys. Weaviate property names are camelCase.
var propertyNames = map[string]string{
	FieldEngine:        "dmsEngine",
	FieldDocID:         "dmsDocId",
	FieldChunkIndex:    "chunkIndex",
	FieldOwnerID:       "ownerId",
	FieldTitle:         "title",
	FieldChunkText:     "chunkText",
	FieldCreated:       "created",
	FieldLabelIDs:      "labelIds",
	FieldLabelNames:    "labelNames",
	FieldCategoryID:    "categoryId",
	FieldCategoryName:  "categoryName",
	FieldTypeID:        "typeId",
	FieldTypeName:      "typeName",
	FieldOwnerUsername: "ownerUsername",
	FieldContentHash:   "contentHash",
}

// PropertyName maps a payload key to its Weaviate property name.
func PropertyName(field string) string {
	if name, ok := propertyNames[field]; ok {
		return name
	}
	return field
}

func keyword(name string) *models.Property {
	return &models.Property{
		Name:         name,
		DataType:     []string{"text"},
		Tokenization: "field", // exact match
	}
}

func Properties() []*models.Property {
	return []*models.Property{
		keyword(PropertyName(FieldEngine)),
		{Name: PropertyName(FieldDocID), DataType: []string{"int"}},
		{Name: PropertyName(FieldChunkIndex), DataType: []string{"int"}},
		{Name: PropertyName(FieldOwnerID), DataType: []string{"int"}},
		{Name: PropertyName(FieldTitle), DataType: []string{"text"}},
		{Name: PropertyName(FieldChunkText), DataType: []string{"text"}},
		keyword(PropertyName(FieldCreated)),
		{Name: PropertyName(FieldLabelIDs), DataType: []string{"int[]"}},
		{Name: PropertyName(FieldLabelNames), DataType: []string{"text[]"}},
		{Name: PropertyName(FieldCategoryID), DataType: []string{"int"}},
		{Name: PropertyName(FieldCategoryName), DataType: []string{"text"}},
		{Name: PropertyName(FieldTypeID), DataType: []string{"int"}},
		{Name: PropertyName(FieldTypeName), DataType: []string{"text"}},
		{Name: PropertyName(FieldOwnerUsername), DataType: []string{"text"}},
		keyword(PropertyName(FieldContentHash)),
	}
}

func weaviateDistance(d Distance) string {
	switch d {
	case DistanceDot:
		return "dot"
	case DistanceEuclid:
		return "l2-squared"
	default:
		return "cosine"
	}
}

// EnsureSchema creates the chunk class if it is missing and adds properties
// that older deployments lack. An existing class keeps its distance metric.
func EnsureSchema(ctx context.Context, client SchemaClient, className string, distance Distance) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := Properties()

	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "A chunk of a DMS document",
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": weaviateDistance(distance),
			},
			Properties: properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}
