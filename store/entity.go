// Package store provides a DynamoDB data access layer for catalog documents.
package store

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// KeyFor builds the single-attribute id key used by all catalog tables.
func KeyFor(id string) PK {
	return PK{"id": &types.AttributeValueMemberS{Value: id}}
}

// Entity is the base interface for all storable types.
type Entity interface {
	// TableName returns the DynamoDB table name for this entity type.
	TableName() string

	// GetKey returns the primary key for this entity.
	GetKey() PK
}

// Item is a raw document as stored.
type Item map[string]types.AttributeValue

// ID returns the document id, or empty string if absent.
func (i Item) ID() string {
	if v, ok := i["id"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// String returns the named string attribute, or empty string if absent.
func (i Item) String(name string) string {
	if v, ok := i[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// Bool returns the named boolean attribute. The second return reports
// whether the attribute exists; a missing flag must never be read as false.
func (i Item) Bool(name string) (bool, bool) {
	if v, ok := i[name].(*types.AttributeValueMemberBOOL); ok {
		return v.Value, true
	}
	return false, false
}
