package spec

import (
	"strings"

	"gopkg.in/yaml.v3"
)

var v2Methods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true,
}

// repairV2Parameters rewrites Swagger 2 operations that openapi2conv rejects:
// several in: body parameters are merged into one object body, and body
// parameters next to formData parameters become formData fields of a
// multipart/form-data operation. Vendor extensions are left untouched.
// changed is false when data is returned as is.
func repairV2Parameters(data []byte) (out []byte, changed bool, err error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return data, false, err
	}
	paths, _ := doc["paths"].(map[string]any)
	for _, item := range paths {
		ops, _ := item.(map[string]any)
		for method, raw := range ops {
			op, _ := raw.(map[string]any)
			if op == nil || !v2Methods[strings.ToLower(method)] {
				continue
			}
			if repairOperation(op) {
				changed = true
			}
		}
	}
	if !changed {
		return data, false, nil
	}
	out, err = yaml.Marshal(doc)
	if err != nil {
		return data, false, err
	}
	return out, true, nil
}

func repairOperation(op map[string]any) bool {
	params, _ := op["parameters"].([]any)
	var bodies, others []map[string]any
	formData := false
	for _, p := range params {
		pm, _ := p.(map[string]any)
		if pm == nil {
			continue
		}
		switch in := str(pm["in"]); {
		case strings.EqualFold(in, "body"):
			bodies = append(bodies, pm)
		case strings.EqualFold(in, "formData"):
			formData = true
			others = append(others, pm)
		default:
			others = append(others, pm)
		}
	}

	switch {
	case len(bodies) > 0 && formData:
		rewritten := make([]any, 0, len(params))
		for _, p := range params {
			pm, _ := p.(map[string]any)
			if pm != nil && strings.EqualFold(str(pm["in"]), "body") {
				rewritten = append(rewritten, bodyAsFormField(pm))
				continue
			}
			rewritten = append(rewritten, p)
		}
		op["parameters"] = rewritten
		consumes, _ := op["consumes"].([]any)
		if !hasString(consumes, "multipart/form-data") {
			op["consumes"] = append(consumes, "multipart/form-data")
		}
		return true
	case len(bodies) > 1:
		properties := map[string]any{}
		var required []any
		for _, b := range bodies {
			name := paramName(b)
			schema := paramSchema(b)
			if schema == nil {
				schema = map[string]any{"type": "string"}
			}
			properties[name] = schema
			if req, _ := b["required"].(bool); req {
				required = append(required, name)
			}
		}
		schema := map[string]any{"type": "object", "properties": properties}
		if len(required) > 0 {
			schema["required"] = required
		}
		rewritten := []any{map[string]any{"in": "body", "name": "body", "schema": schema}}
		for _, o := range others {
			rewritten = append(rewritten, o)
		}
		op["parameters"] = rewritten
		return true
	}
	return false
}

// paramSchema returns the body schema, or one synthesized from the
// type, items and format of a non-body parameter.
func paramSchema(pm map[string]any) map[string]any {
	if s, ok := pm["schema"].(map[string]any); ok {
		return s
	}
	typ := str(pm["type"])
	if typ == "" {
		return nil
	}
	s := map[string]any{"type": typ}
	if items, ok := pm["items"].(map[string]any); ok {
		s["items"] = items
	}
	if f := str(pm["format"]); f != "" {
		s["format"] = f
	}
	return s
}

// bodyAsFormField turns a body parameter into a formData field. Referenced
// object schemas cannot be expressed as form fields and degrade to string.
func bodyAsFormField(pm map[string]any) map[string]any {
	field := map[string]any{"in": "formData", "name": paramName(pm)}
	if d := str(pm["description"]); d != "" {
		field["description"] = d
	}
	if req, ok := pm["required"].(bool); ok {
		field["required"] = req
	}
	typ := "string"
	if s := paramSchema(pm); s != nil {
		if t := str(s["type"]); t != "" && t != "object" {
			typ = t
			if items, ok := s["items"]; ok {
				field["items"] = items
			}
			if f := str(s["format"]); f != "" {
				field["format"] = f
			}
		}
	}
	field["type"] = typ
	return field
}

func paramName(pm map[string]any) string {
	if n := str(pm["name"]); n != "" {
		return n
	}
	return "field"
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func hasString(list []any, want string) bool {
	for _, v := range list {
		if s, ok := v.(string); ok && s == want {
			return true
		}
	}
	return false
}
