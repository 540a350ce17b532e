// Package mock produces fake payloads that conform to OpenAPI schemas.
package mock

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/getkin/kin-openapi/openapi3"
)

// maxDepth bounds recursion through nested and self-referencing schemas.
const maxDepth = 8

// maxItems caps generated arrays.
const maxItems = 10

// Generator builds schema-shaped values. It is safe for concurrent use.
type Generator struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
}

// New returns a Generator. A zero seed picks a random one.
func New(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

// Value returns a JSON-compatible value for schema.
func (g *Generator) Value(schema *openapi3.Schema) any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value(schema, "", 0)
}

func (g *Generator) value(s *openapi3.Schema, name string, depth int) any {
	if s == nil || depth > maxDepth {
		return nil
	}
	if s.Example != nil {
		return normalize(s.Example)
	}
	if len(s.Enum) > 0 {
		return normalize(s.Enum[g.faker.IntRange(0, len(s.Enum)-1)])
	}
	if len(s.AllOf) > 0 {
		return g.allOf(s, name, depth)
	}
	if len(s.OneOf) > 0 {
		return g.choice(s, s.OneOf, true, name, depth)
	}
	if len(s.AnyOf) > 0 {
		return g.choice(s, s.AnyOf, false, name, depth)
	}

	switch s.Type {
	case openapi3.TypeObject:
		return g.object(s, depth)
	case openapi3.TypeArray:
		return g.array(s, name, depth)
	case openapi3.TypeString:
		return g.str(s, name)
	case openapi3.TypeInteger:
		return g.integer(s)
	case openapi3.TypeNumber:
		return g.number(s)
	case openapi3.TypeBoolean:
		return g.faker.Bool()
	case "":
		if len(s.Properties) > 0 {
			return g.object(s, depth)
		}
		if s.Items != nil {
			return g.array(s, name, depth)
		}
		return g.faker.Word()
	}
	return nil
}

func (g *Generator) object(s *openapi3.Schema, depth int) any {
	out := make(map[string]any, len(s.Properties))
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ref := s.Properties[name]
		if ref == nil || ref.Value == nil {
			continue
		}
		v := g.value(ref.Value, name, depth+1)
		if v == nil && !ref.Value.Nullable {
			continue
		}
		out[name] = v
		if s.MaxProps != nil && uint64(len(out)) >= *s.MaxProps {
			break
		}
	}
	return out
}

func (g *Generator) allOf(s *openapi3.Schema, name string, depth int) any {
	merged := map[string]any{}
	var last any
	for _, ref := range s.AllOf {
		if ref == nil {
			continue
		}
		v := g.value(ref.Value, name, depth+1)
		if m, ok := v.(map[string]any); ok {
			for k, val := range m {
				merged[k] = val
			}
			continue
		}
		last = v
	}
	if len(s.Properties) > 0 {
		if m, ok := g.object(s, depth).(map[string]any); ok {
			for k, val := range m {
				merged[k] = val
			}
		}
	}
	if len(merged) == 0 && last != nil {
		return last
	}
	return merged
}

// choiceAttempts bounds how often the branches of a oneOf or anyOf are
// regenerated before the first candidate is returned as is.
const choiceAttempts = 3

// choice draws a value from the branches in order and keeps the first one
// the whole schema accepts. For oneOf, a candidate that several branches
// accept gets extra properties that rule the other branches out.
func (g *Generator) choice(s *openapi3.Schema, branches openapi3.SchemaRefs, exclusive bool, name string, depth int) any {
	var first any
	seen := false
	for attempt := 0; attempt < choiceAttempts; attempt++ {
		for i, ref := range branches {
			if ref == nil || ref.Value == nil {
				continue
			}
			v := g.value(ref.Value, name, depth+1)
			if !seen {
				first, seen = v, true
			}
			if s.VisitJSON(normalize(v)) == nil {
				return v
			}
			if !exclusive {
				continue
			}
			if d, ok := exclude(v, i, branches); ok && s.VisitJSON(normalize(d)) == nil {
				return d
			}
		}
	}
	return first
}

// exclude copies the object v drawn from branches[keep] and, for every other
// branch that also accepts it, adds a property that branch declares with a
// value of the wrong type.
func exclude(v any, keep int, branches openapi3.SchemaRefs) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(obj)+1)
	for k, val := range obj {
		out[k] = val
	}
	own := branches[keep].Value.Properties
	changed := false
	for j, ref := range branches {
		if j == keep || ref == nil || ref.Value == nil || ref.Value.VisitJSON(normalize(out)) != nil {
			continue
		}
		names := make([]string, 0, len(ref.Value.Properties))
		for name := range ref.Value.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, taken := own[name]; taken {
				continue
			}
			if _, taken := out[name]; taken {
				continue
			}
			prop := ref.Value.Properties[name]
			if prop == nil || prop.Value == nil {
				continue
			}
			if bad, ok := mismatch(prop.Value); ok {
				out[name] = bad
				changed = true
				break
			}
		}
	}
	return out, changed
}

// mismatch returns a value whose JSON type schema rejects.
func mismatch(s *openapi3.Schema) (any, bool) {
	switch s.Type {
	case openapi3.TypeBoolean:
		return "", true
	case "":
		return nil, false
	default:
		return false, true
	}
}

func (g *Generator) array(s *openapi3.Schema, name string, depth int) any {
	n := int(s.MinItems)
	if n == 0 {
		n = 1
	}
	if s.MaxItems != nil && uint64(n) > *s.MaxItems {
		n = int(*s.MaxItems)
	}
	if n > maxItems {
		n = maxItems
	}
	out := make([]any, 0, n)
	if s.Items == nil || s.Items.Value == nil {
		return out
	}
	if !s.UniqueItems {
		for i := 0; i < n; i++ {
			v := g.value(s.Items.Value, name, depth+1)
			if v == nil {
				continue
			}
			out = append(out, v)
		}
		return out
	}

	if limit := distinctValues(s.Items.Value); limit >= 0 && n > limit {
		n = limit
	}
	seen := make(map[string]bool, n)
	for tries := 0; len(out) < n && tries < n*50; tries++ {
		v := g.value(s.Items.Value, name, depth+1)
		if v == nil {
			continue
		}
		key, err := json.Marshal(v)
		if err != nil || seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		out = append(out, v)
	}
	return out
}

// distinctValues returns how many different values schema can produce, or
// -1 when that number is not small and known.
func distinctValues(s *openapi3.Schema) int {
	switch {
	case s.Example != nil:
		return 1
	case len(s.Enum) > 0:
		return len(s.Enum)
	case s.Type == openapi3.TypeBoolean:
		return 2
	}
	return -1
}

func (g *Generator) str(s *openapi3.Schema, name string) any {
	switch s.Format {
	case "date":
		return g.faker.Date().Format("2006-01-02")
	case "date-time":
		return g.faker.Date().UTC().Format(time.RFC3339)
	case "email":
		return g.faker.Email()
	case "uuid":
		return g.faker.UUID()
	case "uri", "url":
		return g.faker.URL()
	case "ipv4":
		return g.faker.IPv4Address()
	case "password":
		return g.faker.Password(true, true, true, false, false, 12)
	case "byte":
		return base64.StdEncoding.EncodeToString([]byte(g.faker.Word()))
	}
	if s.Pattern != "" {
		return fit(g.faker.Regex(s.Pattern), s)
	}
	var v string
	switch lower := strings.ToLower(name); {
	case strings.Contains(lower, "email"):
		v = g.faker.Email()
	case lower == "name" || strings.HasSuffix(lower, "name"):
		v = g.faker.Name()
	case lower == "id" || strings.HasSuffix(lower, "id"):
		v = g.faker.UUID()
	case strings.Contains(lower, "description") || strings.Contains(lower, "message"):
		v = g.faker.Sentence(6)
	default:
		v = g.faker.Word()
	}
	return fit(v, s)
}

// fit pads or truncates v to the schema's length bounds.
func fit(v string, s *openapi3.Schema) string {
	runes := []rune(v)
	if s.MaxLength != nil && uint64(len(runes)) > *s.MaxLength {
		runes = runes[:*s.MaxLength]
	}
	for uint64(len(runes)) < s.MinLength {
		runes = append(runes, 'x')
	}
	return string(runes)
}

func (g *Generator) integer(s *openapi3.Schema) any {
	lo, hi := bounds(s, 1, 1000, true)
	first, last := int64(math.Ceil(lo)), int64(math.Floor(hi))
	if last < first {
		last = first
	}
	v := first + int64(g.faker.IntRange(0, int(last-first)))
	if s.MultipleOf != nil && *s.MultipleOf >= 1 {
		m := int64(*s.MultipleOf)
		if r := v % m; r != 0 {
			v -= r
			if v < first {
				v += m
			}
		}
	}
	return v
}

func (g *Generator) number(s *openapi3.Schema) any {
	lo, hi := bounds(s, 0, 1000, false)
	return g.faker.Float64Range(lo, hi)
}

// bounds returns the inclusive range a value may be drawn from. Exclusive
// integer bounds move to the next whole number, exclusive number bounds to
// the next representable float.
func bounds(s *openapi3.Schema, lo, hi float64, integer bool) (float64, float64) {
	if s.Min != nil {
		lo = *s.Min
		if s.ExclusiveMin {
			if integer {
				lo = math.Floor(lo) + 1
			} else {
				lo = math.Nextafter(lo, math.Inf(1))
			}
		}
		if s.Max == nil {
			hi = lo + 1000
		}
	}
	if s.Max != nil {
		hi = *s.Max
		if s.ExclusiveMax {
			if integer {
				hi = math.Ceil(hi) - 1
			} else {
				hi = math.Nextafter(hi, math.Inf(-1))
			}
		}
		if s.Min == nil && hi < lo {
			lo = hi - 1000
		}
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// normalize converts literal values from the document into encoding/json's
// generic forms.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
