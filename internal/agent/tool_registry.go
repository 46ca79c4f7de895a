package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ouro-ai-labs/ouro/internal/tools/policy"
	"github.com/ouro-ai-labs/ouro/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20 // 10MB
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup. The registry is built once at process start; per-run tool
// filtering (explore_context's tool_filter) narrows a view over it rather
// than mutating it.
type ToolRegistry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	schemas  map[string]*jsonschema.Schema
}

// NewToolRegistry creates a new empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry by its name, replacing any existing
// tool registered under the same name. If the tool's Schema() fails to
// compile, Register still stores the tool but argument validation is
// skipped for it -- a descriptive tool is better than a missing one.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool

	compiled, err := compileToolSchema(tool.Name(), tool.Schema())
	if err == nil {
		r.schemas[tool.Name()] = compiled
	} else {
		delete(r.schemas, tool.Name())
	}
}

func compileToolSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty schema")
	}
	return jsonschema.CompileString(name+".schema.json", string(raw))
}

func validateAgainstSchema(schema *jsonschema.Schema, input json.RawMessage) error {
	var decoded any
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("malformed JSON arguments: %w", err)
	}
	return schema.Validate(decoded)
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns every registered tool name.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Descriptors returns the ToolDescriptor for each registered tool, narrowed
// to filter when non-empty (the sub-agent tool_filter contract).
func (r *ToolRegistry) Descriptors(filter []string) []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var allowed map[string]bool
	if len(filter) > 0 {
		allowed = make(map[string]bool, len(filter))
		for _, name := range filter {
			allowed[name] = true
		}
	}

	out := make([]models.ToolDescriptor, 0, len(r.tools))
	for name, tool := range r.tools {
		if allowed != nil && !allowed[name] {
			continue
		}
		class := models.SideEffectReadWrite
		if policy.IsReadOnly(name) {
			class = models.SideEffectReadOnly
		}
		out = append(out, models.ToolDescriptor{
			Name:            name,
			Description:     tool.Description(),
			Schema:          tool.Schema(),
			SideEffectClass: class,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tools returns the registered Tool instances narrowed to filter when
// non-empty, in the order the LLM request's tool list is built. Used to
// populate CompletionRequest.Tools, which providers translate into their
// own function-calling schema.
func (r *ToolRegistry) Tools(filter []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var allowed map[string]bool
	if len(filter) > 0 {
		allowed = make(map[string]bool, len(filter))
		for _, name := range filter {
			allowed[name] = true
		}
	}

	out := make([]Tool, 0, len(r.tools))
	for name, tool := range r.tools {
		if allowed != nil && !allowed[name] {
			continue
		}
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Execute runs a tool by name with the given JSON arguments, recovering
// from panics and classifying the outcome per the error taxonomy. Execute
// never returns a bare Go error for an ordinary tool failure -- only the
// returned ToolCallResult's Status distinguishes unknown_tool/
// invalid_arguments/tool_crashed/error/ok from each other.
func (r *ToolRegistry) Execute(ctx context.Context, call models.ToolCall) models.ToolCallResult {
	result := models.ToolCallResult{CallID: call.ID, ToolName: call.Name}

	if len(call.Name) > MaxToolNameLength {
		result.Status = models.ToolStatusError
		result.Payload = fmt.Sprintf("invalid_arguments: tool name exceeds %d characters", MaxToolNameLength)
		return result
	}
	if len(call.Input) > MaxToolParamsSize {
		result.Status = models.ToolStatusError
		result.Payload = fmt.Sprintf("invalid_arguments: tool parameters exceed %d bytes", MaxToolParamsSize)
		return result
	}

	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()

	if !ok {
		result.Status = models.ToolStatusError
		result.Payload = fmt.Sprintf("unknown_tool: %q is not registered", call.Name)
		return result
	}

	if schema != nil {
		if err := validateAgainstSchema(schema, call.Input); err != nil {
			result.Status = models.ToolStatusError
			result.Payload = fmt.Sprintf("invalid_arguments: %v", err)
			return result
		}
	}

	return r.executeGuarded(ctx, tool, call)
}

// executeGuarded runs tool.Execute and converts a panic into a tool_crashed
// ToolCallResult instead of unwinding the caller.
func (r *ToolRegistry) executeGuarded(ctx context.Context, tool Tool, call models.ToolCall) (result models.ToolCallResult) {
	result.CallID = call.ID
	result.ToolName = call.Name

	defer func() {
		if rec := recover(); rec != nil {
			result.Status = models.ToolStatusError
			result.Payload = fmt.Sprintf("tool_crashed: %v", rec)
		}
	}()

	if ctx.Err() != nil {
		result.Status = models.ToolStatusCancelled
		result.Payload = "cancelled"
		return result
	}

	out, err := tool.Execute(ctx, call.Input)
	switch {
	case err != nil && ctx.Err() != nil:
		result.Status = models.ToolStatusCancelled
		result.Payload = "cancelled"
	case err != nil:
		result.Status = models.ToolStatusError
		result.Payload = err.Error()
	case out != nil && out.IsError:
		result.Status = models.ToolStatusError
		result.Payload = out.Content
	case out != nil:
		result.Status = models.ToolStatusOK
		result.Payload = out.Content
	default:
		result.Status = models.ToolStatusOK
	}
	return result
}
