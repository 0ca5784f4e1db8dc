package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var personSchema = `{
	"$id": "https://erino.io/person.json",
	"type": "object",
	"required": ["name", "email"],
	"properties": {
		"name": { "type": "string" },
		"email": { "type": "string" }
	}
}`

func TestValidator(t *testing.T) {
	v, err := NewValidator([]string{personSchema})
	assert.NoError(t, err)

	assert.True(t, v.HasSchema("https://erino.io/person.json"))
	assert.False(t, v.HasSchema("https://erino.io/other.json"))

	err = v.ValidateString(`{"name":"Jane","email":"jane@example.com"}`, "https://erino.io/person.json")
	assert.NoError(t, err)

	err = v.ValidateString(`{"name":"Jane"}`, "https://erino.io/person.json")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "email")

	err = v.ValidateString(`{}`, "https://erino.io/unknown.json")
	assert.Error(t, err)
}

func TestValidatorRejectsSchemaWithoutID(t *testing.T) {
	_, err := NewValidator([]string{`{"type":"object"}`})
	assert.Error(t, err)
}

func TestValidateStruct(t *testing.T) {
	v, err := NewValidator([]string{personSchema})
	assert.NoError(t, err)

	err = v.ValidateStruct(map[string]interface{}{"name": "Jane", "email": "jane@example.com"},
		"https://erino.io/person.json")
	assert.NoError(t, err)
}
