package mock

import (
	"context"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const petSchemas = `openapi: 3.0.3
info: {title: pets, version: '1'}
paths: {}
components:
  schemas:
    Pet:
      type: object
      required: [id, name, status, tags]
      properties:
        id: {type: string, format: uuid}
        name: {type: string, minLength: 3, maxLength: 40}
        email: {type: string, format: email}
        born: {type: string, format: date}
        updatedAt: {type: string, format: date-time}
        status: {type: string, enum: [available, sold]}
        age: {type: integer, minimum: 1, maximum: 30}
        weight: {type: number, minimum: 0.5, maximum: 80}
        score: {type: integer, minimum: 0, maximum: 100, multipleOf: 5}
        tags:
          type: array
          minItems: 2
          maxItems: 3
          items: {type: string}
        owner: {$ref: '#/components/schemas/Owner'}
    Owner:
      allOf:
        - type: object
          properties:
            firstName: {type: string}
        - type: object
          properties:
            website: {type: string, format: uri}
    Node:
      type: object
      properties:
        value: {type: integer}
        next: {$ref: '#/components/schemas/Node'}
    Fixed:
      type: object
      example: {hello: world}
    Choice:
      oneOf:
        - {type: boolean}
        - {type: string}
`

func loadSchemas(t *testing.T) openapi3.Schemas {
	t.Helper()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(petSchemas))
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	return doc.Components.Schemas
}

func TestValue_ConformsToSchema(t *testing.T) {
	t.Parallel()
	schemas := loadSchemas(t)
	g := New(42)
	for i := 0; i < 20; i++ {
		v := g.Value(schemas["Pet"].Value)
		require.NoError(t, schemas["Pet"].Value.VisitJSON(normalize(v)), "value %v", v)
	}
}

func TestValue_Deterministic(t *testing.T) {
	t.Parallel()
	schemas := loadSchemas(t)
	a := New(7).Value(schemas["Pet"].Value)
	b := New(7).Value(schemas["Pet"].Value)
	assert.Equal(t, a, b)
}

func TestValue_AllOfMerges(t *testing.T) {
	t.Parallel()
	schemas := loadSchemas(t)
	v, ok := New(1).Value(schemas["Owner"].Value).(map[string]any)
	require.True(t, ok)
	assert.Contains(t, v, "firstName")
	assert.Contains(t, v, "website")
}

func TestValue_RecursionIsBounded(t *testing.T) {
	t.Parallel()
	schemas := loadSchemas(t)
	v := New(1).Value(schemas["Node"].Value)
	depth := 0
	for {
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		depth++
		v = m["next"]
	}
	assert.LessOrEqual(t, depth, maxDepth+1)
	assert.Greater(t, depth, 1)
}

func TestValue_ExampleAndOneOf(t *testing.T) {
	t.Parallel()
	schemas := loadSchemas(t)
	g := New(3)
	assert.Equal(t, map[string]any{"hello": "world"}, g.Value(schemas["Fixed"].Value))
	_, isBool := g.Value(schemas["Choice"].Value).(bool)
	assert.True(t, isBool)
	assert.Nil(t, g.Value(nil))
}

func TestValue_Formats(t *testing.T) {
	t.Parallel()
	g := New(9)
	cases := []*openapi3.Schema{
		{Type: openapi3.TypeString, Format: "email"},
		{Type: openapi3.TypeString, Format: "uuid"},
		{Type: openapi3.TypeString, Format: "date"},
		{Type: openapi3.TypeString, Format: "date-time"},
		{Type: openapi3.TypeString, Format: "byte"},
		{Type: openapi3.TypeString, Format: "ipv4"},
	}
	for _, s := range cases {
		v := g.Value(s)
		str, ok := v.(string)
		require.True(t, ok, "format %s", s.Format)
		assert.NotEmpty(t, str)
		assert.NoError(t, s.VisitJSON(str), "format %s: %q", s.Format, str)
	}
}

const choiceSchemas = `openapi: 3.0.3
info: {title: choices, version: '1'}
paths: {}
components:
  schemas:
    Overlap:
      oneOf:
        - type: object
          properties:
            title: {type: string}
        - type: object
          properties:
            name: {type: string}
            size: {type: integer}
    Either:
      anyOf:
        - {type: string, enum: [x]}
        - {type: integer}
    Tags:
      type: array
      minItems: 3
      uniqueItems: true
      items: {type: string, enum: [a, b, c]}
    Flags:
      type: array
      minItems: 2
      uniqueItems: true
      items: {type: integer, minimum: 1, maximum: 3}
    Unit:
      type: number
      minimum: 0
      exclusiveMinimum: true
      maximum: 1
      exclusiveMaximum: true
    Odd:
      type: integer
      minimum: 1.5
      exclusiveMinimum: true
      maximum: 3
      exclusiveMaximum: true
`

func TestValue_ValidAgainstOwnSchema(t *testing.T) {
	t.Parallel()
	doc, err := openapi3.NewLoader().LoadFromData([]byte(choiceSchemas))
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))

	g := New(11)
	for _, name := range []string{"Overlap", "Either", "Tags", "Flags", "Unit", "Odd"} {
		schema := doc.Components.Schemas[name].Value
		for i := 0; i < 50; i++ {
			v := g.Value(schema)
			require.NoError(t, schema.VisitJSON(normalize(v)), "%s: %v", name, v)
		}
	}
}

func TestValue_UniqueItemsCappedByEnum(t *testing.T) {
	t.Parallel()
	items := &openapi3.Schema{Type: openapi3.TypeString, Enum: []any{"a", "b"}}
	s := &openapi3.Schema{Type: openapi3.TypeArray, MinItems: 5, UniqueItems: true, Items: openapi3.NewSchemaRef("", items)}
	v, ok := New(5).Value(s).([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"a", "b"}, v)
}

func TestBounds_Exclusive(t *testing.T) {
	t.Parallel()
	zero, one := 0.0, 1.0
	s := &openapi3.Schema{Type: openapi3.TypeNumber, Min: &zero, Max: &one, ExclusiveMin: true, ExclusiveMax: true}
	lo, hi := bounds(s, 0, 1000, false)
	assert.Greater(t, lo, 0.0)
	assert.Less(t, hi, 1.0)
	assert.LessOrEqual(t, lo, hi)

	half, three := 1.5, 3.0
	odd := &openapi3.Schema{Type: openapi3.TypeInteger, Min: &half, Max: &three, ExclusiveMin: true, ExclusiveMax: true}
	lo, hi = bounds(odd, 1, 1000, true)
	assert.Equal(t, 2.0, lo)
	assert.Equal(t, 2.0, hi)
}
