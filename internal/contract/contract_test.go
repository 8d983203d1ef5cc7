package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schema = []byte(`{
	"type": "object",
	"required": ["store_code", "currency", "total", "payment"],
	"properties": {
		"store_code": {"type": "string", "minLength": 1},
		"currency": {"type": "string", "pattern": "^[A-Z]{3}$"},
		"total": {"type": "string"},
		"payment": {
			"type": "object",
			"required": ["method"],
			"properties": {"method": {"type": "string"}}
		}
	}
}`)

func TestValidateAcceptsConformingDocument(t *testing.T) {
	v, err := NewValidator(schema)
	require.NoError(t, err)

	doc := []byte(`{"store_code":"MOBEE","currency":"USD","total":"100","payment":{"method":"CREDITCARD"}}`)
	assert.NoError(t, v.Validate(doc))
}

func TestValidateListsEveryProblem(t *testing.T) {
	v, err := NewValidator(schema)
	require.NoError(t, err)

	doc := []byte(`{"currency":"usd","total":"100","payment":{}}`)
	err = v.Validate(doc)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Problems, 3)
	assert.Contains(t, err.Error(), "request validation failed")
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	v, err := NewValidator(schema)
	require.NoError(t, err)

	err = v.Validate([]byte(`{"store_code":`))
	require.Error(t, err)
	var ve *ValidationError
	assert.NotErrorAs(t, err, &ve)
}

func TestNewValidatorRejectsBrokenSchema(t *testing.T) {
	_, err := NewValidator([]byte(`{"type": 12}`))
	require.Error(t, err)
}
