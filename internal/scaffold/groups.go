// Package scaffold groups the operations of an OpenAPI document by their
// declared handler and writes one controller file per group, once.
package scaffold

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mark3labs/apistarter/internal/catalog"
	"github.com/mark3labs/apistarter/internal/spec"
)

// DefaultHandlerKey names the extension that assigns an operation to a handler.
const DefaultHandlerKey = "x-eov-operation-handler"

// Skip reasons recorded in Groups.Skipped.
const (
	ReasonMissingHandler     = "missing handler extension"
	ReasonMissingOperationID = "missing operation id extension"
	ReasonDuplicateID        = "duplicate operation id"
)

// methods are the path item keys that hold operations.
var methods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}

// Operation describes one stub to emit.
type Operation struct {
	OperationID   string
	Method        string
	Path          string
	Summary       string
	Description   string
	SuccessStatus int // lowest declared 2xx, else catalog.DefaultStatus
}

// Group is the ordered list of operations that share a handler name.
type Group struct {
	Handler    string
	Operations []Operation
}

// OperationIDs returns the ids of the group's operations in order.
func (g Group) OperationIDs() []string {
	out := make([]string, len(g.Operations))
	for i, op := range g.Operations {
		out[i] = op.OperationID
	}
	return out
}

// SkippedOperation is an operation that did not make it into any group.
type SkippedOperation struct {
	Method      string
	Path        string
	OperationID string
	Reason      string
}

// Groups is the handler group catalog of one document. Groups are kept in the
// order their handler name was first seen.
type Groups struct {
	Groups  []*Group
	Skipped []SkippedOperation

	index map[string]*Group
}

// Len returns the number of handler groups.
func (g *Groups) Len() int { return len(g.Groups) }

// Lookup returns the group for handler, if any.
func (g *Groups) Lookup(handler string) (*Group, bool) {
	grp, ok := g.index[handler]
	return grp, ok
}

func (g *Groups) add(handler string, op Operation) {
	grp, ok := g.index[handler]
	if !ok {
		grp = &Group{Handler: handler}
		g.index[handler] = grp
		g.Groups = append(g.Groups, grp)
	}
	grp.Operations = append(grp.Operations, op)
}

// ReadOption configures ReadGroups.
type ReadOption func(*readConfig)

type readConfig struct {
	handlerKey     string
	operationIDKey string
}

// WithHandlerKey overrides the handler name extension.
func WithHandlerKey(key string) ReadOption {
	return func(c *readConfig) {
		if key = strings.TrimSpace(key); key != "" {
			c.handlerKey = key
		}
	}
}

// WithOperationIDKey overrides the operation id extension.
func WithOperationIDKey(key string) ReadOption {
	return func(c *readConfig) {
		if key = strings.TrimSpace(key); key != "" {
			c.operationIDKey = key
		}
	}
}

// ReadGroups scans every path/method pair of an OpenAPI document (YAML or
// JSON) in document order. An operation joins a group only when it carries
// both the handler and operation id extensions.
func ReadGroups(data []byte, opts ...ReadOption) (*Groups, error) {
	cfg := &readConfig{handlerKey: DefaultHandlerKey, operationIDKey: catalog.DefaultOperationIDKey}
	for _, opt := range opts {
		opt(cfg)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &spec.SpecError{Code: spec.ParseError, Message: fmt.Sprintf("parse spec: %v", err), Cause: err}
	}
	out := &Groups{index: make(map[string]*Group)}
	if len(doc.Content) == 0 {
		return out, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &spec.SpecError{Code: spec.ParseError, Message: "parse spec: document root is not a mapping"}
	}
	paths := mappingValue(root, "paths")
	if paths == nil {
		return out, nil
	}
	if paths.Kind != yaml.MappingNode {
		return nil, &spec.SpecError{Code: spec.ParseError, Message: "parse spec: paths is not a mapping", JSONPointer: "#/paths"}
	}

	seen := make(map[string]bool)
	for i := 0; i+1 < len(paths.Content); i += 2 {
		path := paths.Content[i].Value
		item := paths.Content[i+1]
		if item.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(item.Content); j += 2 {
			method := strings.ToLower(item.Content[j].Value)
			opNode := item.Content[j+1]
			if !methods[method] || opNode.Kind != yaml.MappingNode {
				continue
			}
			handler := scalarValue(opNode, cfg.handlerKey)
			id := scalarValue(opNode, cfg.operationIDKey)
			skipped := SkippedOperation{Method: strings.ToUpper(method), Path: path, OperationID: id}
			if id == "" {
				// Report the standard operationId so the warning names something useful.
				skipped.OperationID = scalarValue(opNode, "operationId")
			}
			switch {
			case handler == "":
				skipped.Reason = ReasonMissingHandler
			case id == "":
				skipped.Reason = ReasonMissingOperationID
			case seen[id]:
				skipped.Reason = ReasonDuplicateID
			}
			if skipped.Reason != "" {
				out.Skipped = append(out.Skipped, skipped)
				continue
			}
			seen[id] = true
			out.add(handler, Operation{
				OperationID:   id,
				Method:        strings.ToUpper(method),
				Path:          path,
				Summary:       scalarValue(opNode, "summary"),
				Description:   scalarValue(opNode, "description"),
				SuccessStatus: successStatus(mappingValue(opNode, "responses")),
			})
		}
	}
	return out, nil
}

func successStatus(responses *yaml.Node) int {
	best := 0
	if responses != nil && responses.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(responses.Content); i += 2 {
			code, err := strconv.Atoi(responses.Content[i].Value)
			if err != nil || code < 200 || code > 299 {
				continue
			}
			if best == 0 || code < best {
				best = code
			}
		}
	}
	if best == 0 {
		return catalog.DefaultStatus
	}
	return best
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			v := m.Content[i+1]
			if v.Kind == yaml.AliasNode && v.Alias != nil {
				return v.Alias
			}
			return v
		}
	}
	return nil
}

func scalarValue(m *yaml.Node, key string) string {
	v := mappingValue(m, key)
	if v == nil || v.Kind != yaml.ScalarNode || v.Tag == "!!null" {
		return ""
	}
	return strings.TrimSpace(v.Value)
}
