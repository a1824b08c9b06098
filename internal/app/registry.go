package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
)

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
)

type ParamSpec struct {
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
}

// ToolArgs holds already-validated arguments. Handlers only ever see values
// whose types match the declared schema.
type ToolArgs map[string]interface{}

func (a ToolArgs) String(name string) string {
	v, _ := a[name].(string)
	return v
}

func (a ToolArgs) Int(name string) int {
	switch v := a[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func (a ToolArgs) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

func (a ToolArgs) Strings(name string) []string {
	raw, ok := a[name].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (a ToolArgs) Has(name string) bool {
	_, ok := a[name]
	return ok
}

type ToolHandler func(ctx context.Context, args ToolArgs) ToolResult

type Tool struct {
	Name        string
	Description string
	Parameters  map[string]ParamSpec
	Handler     ToolHandler
}

type ToolResult struct {
	Success  bool              `json:"success"`
	Output   string            `json:"output"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ToolDescriptor is the machine-readable catalogue entry for one tool, used
// both to drive validation and to embed the capability list in a prompt.
type ToolDescriptor struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters"`
}

// ToolRegistry holds schema-described callable capabilities. The registry
// itself performs no I/O; side effects live in the individual handlers.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering under an existing name overwrites the
// prior definition (last write wins).
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute looks up a tool, validates the arguments against its schema, and
// only then invokes the handler. Validation failure guarantees the handler
// never ran, so bad input has no partial side effects.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (ToolResult, error) {
	tool, ok := r.Get(name)
	if !ok {
		return ToolResult{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	validated, err := validateArgs(tool, args)
	if err != nil {
		return ToolResult{}, err
	}
	return tool.Handler(ctx, validated), nil
}

// DescribeAll renders the catalogue sorted by name so prompt embedding is
// deterministic.
func (r *ToolRegistry) DescribeAll() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descriptors := make([]ToolDescriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		descriptors = append(descriptors, ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	return descriptors
}

// CatalogueJSON is the prompt-embeddable form of DescribeAll.
func (r *ToolRegistry) CatalogueJSON() string {
	data, err := json.MarshalIndent(r.DescribeAll(), "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

func validateArgs(tool Tool, args map[string]interface{}) (ToolArgs, error) {
	for name := range args {
		if _, declared := tool.Parameters[name]; !declared {
			return nil, &UnknownParameterError{Tool: tool.Name, Param: name}
		}
	}
	validated := make(ToolArgs, len(args))
	for name, spec := range tool.Parameters {
		value, present := args[name]
		if !present {
			if spec.Required {
				return nil, &ValidationError{Tool: tool.Name, Param: name, Reason: "required parameter missing"}
			}
			continue
		}
		coerced, err := coerceValue(spec.Type, value)
		if err != nil {
			return nil, &ValidationError{Tool: tool.Name, Param: name, Reason: err.Error()}
		}
		validated[name] = coerced
	}
	return validated, nil
}

func coerceValue(t ParamType, value interface{}) (interface{}, error) {
	switch t {
	case ParamString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s, nil
	case ParamInteger:
		switch v := value.(type) {
		case int:
			return v, nil
		case float64:
			// JSON numbers decode as float64; only whole values pass.
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int(v), nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", value)
		}
	case ParamBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", value)
		}
		return b, nil
	case ParamArray:
		switch v := value.(type) {
		case []interface{}:
			return v, nil
		case []string:
			out := make([]interface{}, len(v))
			for i, s := range v {
				out[i] = s
			}
			return out, nil
		default:
			return nil, fmt.Errorf("expected array, got %T", value)
		}
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", t)
	}
}
