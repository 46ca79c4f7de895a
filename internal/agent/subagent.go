package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ouro-ai-labs/ouro/internal/memory"
	"github.com/ouro-ai-labs/ouro/internal/tools/policy"
	"github.com/ouro-ai-labs/ouro/pkg/models"
)

// spawnerCapability labels the two Spawner tools for the SubAgentsSpawned
// metric.
type spawnerCapability string

const (
	capabilityExploreContext  spawnerCapability = "explore_context"
	capabilityParallelExecute spawnerCapability = "parallel_execute"
)

// exploreContextMaxTasks bounds both the concurrency and, per spec §4.6,
// the practical fan-out of a single explore_context call (N=3).
const exploreContextMaxTasks = 3

// subAgentResultCeiling caps a single child's result text before it is
// folded into the aggregate (the "compressed per-task output ceiling").
const subAgentResultCeiling = 4000

// Spawner implements the Sub-Agent Spawner: explore_context and
// parallel_execute, exposed as ordinary registry tools sharing one
// process-wide cap on live sub-agents.
type Spawner struct {
	rt  *Runtime
	sem chan struct{}
}

// NewSpawner builds a Spawner bounded by rt.Options.MaxSubAgents live
// children at any time.
func NewSpawner(rt *Runtime) *Spawner {
	max := rt.Options.MaxSubAgents
	if max <= 0 {
		max = DefaultRuntimeOptions().MaxSubAgents
	}
	return &Spawner{rt: rt, sem: make(chan struct{}, max)}
}

// RegisterTools installs explore_context and parallel_execute into reg.
func (s *Spawner) RegisterTools(reg *ToolRegistry) {
	reg.Register(&exploreContextTool{spawner: s})
	reg.Register(&parallelExecuteTool{spawner: s})
}

// reserve attempts to reserve n sub-agent slots atomically: either all n
// succeed or none do, satisfying spec's "exceeding returns error/max_agents
// before spawning" (a partial reservation would spawn some children before
// discovering there's no room for the rest).
func (s *Spawner) reserve(n int) bool {
	reserved := make([]struct{}, 0, n)
	for i := 0; i < n; i++ {
		select {
		case s.sem <- struct{}{}:
			reserved = append(reserved, struct{}{})
		default:
			for range reserved {
				<-s.sem
			}
			return false
		}
	}
	return true
}

func (s *Spawner) release(n int) {
	for i := 0; i < n; i++ {
		<-s.sem
	}
}

// childManager builds a fresh Memory Manager for one sub-agent task,
// optionally seeded with a snapshot of the parent's messages (context
// inheritance is by snapshot, never a shared buffer view -- spec §5).
func childManager(parentSession *models.Session, spec models.SubAgentSpec) *memory.Manager {
	childID := uuid.NewString()
	if !spec.InheritParentContext || parentSession == nil {
		return memory.New(childID, memory.DefaultManagerOptions())
	}
	snapshot := &models.Session{
		ID:             childID,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		SystemMessages: parentSession.SystemMessages,
		Summary:        parentSession.Summary,
		Messages:       append([]*models.Message(nil), parentSession.Messages...),
	}
	return memory.FromSession(snapshot, memory.DefaultManagerOptions())
}

// runChild executes one sub-agent task to completion and projects the
// outcome into the shared aggregate shape.
func (s *Spawner) runChild(ctx context.Context, parentSession *models.Session, spec models.SubAgentSpec, capability spawnerCapability) models.SubAgentOutcome {
	start := time.Now()
	mgr := childManager(parentSession, spec)
	inner := s.rt.NewSubAgentInnerLoop(mgr, spec.AllowedTools, nil)

	if s.rt.Options.Tracer != nil {
		var span trace.Span
		ctx, span = s.rt.Options.Tracer.Start(ctx, "sub_agent."+string(capability))
		defer span.End()
	}

	childCtx := WithSubAgentDepth(ctx, spec.Depth)
	result, err := inner.Run(childCtx, spec.Task)
	duration := time.Since(start)

	outcome := models.SubAgentOutcome{Name: spec.Name, Status: models.ToolStatusOK, Result: result, Duration: duration}
	if err != nil {
		status := models.ToolStatusError
		var fe *FatalError
		if errors.As(err, &fe) && fe.Kind == FatalCancelled {
			status = models.ToolStatusCancelled
		}
		outcome = models.SubAgentOutcome{Name: spec.Name, Status: status, Error: err.Error(), Duration: duration}
	} else if len(result) > subAgentResultCeiling {
		outcome.Result = result[:subAgentResultCeiling] + "...[truncated]"
	}

	if s.rt.Options.Metrics != nil {
		s.rt.Options.Metrics.SubAgentsSpawned.WithLabelValues(string(capability), string(outcome.Status)).Inc()
	}
	return outcome
}

// renderOutcomes formats outcomes as spec's "labeled block" aggregate.
func renderOutcomes(outcomes []models.SubAgentOutcome) string {
	var sb strings.Builder
	for i, o := range outcomes {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "=== %s (%s) ===\n", o.Name, o.Status)
		switch {
		case o.Skipped:
			sb.WriteString("skipped: a dependency failed")
		case o.Error != "":
			sb.WriteString("error: " + o.Error)
		default:
			sb.WriteString(o.Result)
		}
	}
	return sb.String()
}

func anyFailed(outcomes []models.SubAgentOutcome) bool {
	for _, o := range outcomes {
		if o.Skipped || o.Error != "" {
			return true
		}
	}
	return false
}

// --- explore_context -------------------------------------------------

type exploreContextTool struct{ spawner *Spawner }

func (t *exploreContextTool) Name() string { return "explore_context" }

func (t *exploreContextTool) Description() string {
	return "Run up to 3 read-only investigation tasks in parallel as child agents and return their findings."
}

func (t *exploreContextTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tasks": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"tool_filter": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["tasks"]
	}`)
}

func (t *exploreContextTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var params struct {
		Tasks      []string `json:"tasks"`
		ToolFilter []string `json:"tool_filter"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &ToolResult{Content: "invalid_arguments: " + err.Error(), IsError: true}, nil
	}
	if len(params.Tasks) == 0 {
		return &ToolResult{Content: "invalid_arguments: tasks must be non-empty", IsError: true}, nil
	}

	maxDepth := t.spawner.rt.Options.MaxSubAgentDepth
	if maxDepth <= 0 {
		maxDepth = DefaultRuntimeOptions().MaxSubAgentDepth
	}
	depth := subAgentDepthFromContext(ctx)
	if depth >= maxDepth {
		return &ToolResult{Content: "max_depth: explore_context nesting limit reached", IsError: true}, nil
	}

	if violations := policy.ValidateExploreFilter(params.ToolFilter); len(violations) > 0 {
		return &ToolResult{Content: fmt.Sprintf("invalid_arguments: tool_filter contains non-read-only tools: %s", strings.Join(violations, ", ")), IsError: true}, nil
	}

	if !t.spawner.reserve(len(params.Tasks)) {
		return &ToolResult{Content: "max_agents: not enough sub-agent capacity for this request", IsError: true}, nil
	}
	defer t.spawner.release(len(params.Tasks))

	parentSession := SessionFromContext(ctx)
	childCtx := withParallelExecuteForbidden(ctx)

	outcomes := make([]models.SubAgentOutcome, len(params.Tasks))
	sem := make(chan struct{}, exploreContextMaxTasks)
	var wg sync.WaitGroup
	for i, task := range params.Tasks {
		wg.Add(1)
		go func(idx int, task string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			spec := models.SubAgentSpec{
				Name:         fmt.Sprintf("explore-%d", idx+1),
				Task:         task,
				AllowedTools: params.ToolFilter,
				Depth:        depth + 1,
			}
			outcomes[idx] = t.spawner.runChild(childCtx, parentSession, spec, capabilityExploreContext)
		}(i, task)
	}
	wg.Wait()

	return &ToolResult{Content: renderOutcomes(outcomes), IsError: anyFailed(outcomes)}, nil
}

// --- parallel_execute --------------------------------------------------

type parallelTaskSpec struct {
	Name         string   `json:"name"`
	Task         string   `json:"task"`
	DependsOn    []string `json:"depends_on"`
	AllowedTools []string `json:"allowed_tools"`
}

type parallelExecuteTool struct{ spawner *Spawner }

func (t *parallelExecuteTool) Name() string { return "parallel_execute" }

func (t *parallelExecuteTool) Description() string {
	return "Run a DAG of subtasks with explicit dependencies, scheduled in topological waves with bounded concurrency."
}

func (t *parallelExecuteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tasks": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"task": {"type": "string"},
						"depends_on": {"type": "array", "items": {"type": "string"}},
						"allowed_tools": {"type": "array", "items": {"type": "string"}}
					},
					"required": ["name", "task"]
				}
			}
		},
		"required": ["tasks"]
	}`)
}

func (t *parallelExecuteTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	if !parallelExecuteAllowed(ctx) {
		return &ToolResult{Content: "invalid_arguments: parallel_execute cannot be called from inside explore_context", IsError: true}, nil
	}

	var params struct {
		Tasks []parallelTaskSpec `json:"tasks"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return &ToolResult{Content: "invalid_arguments: " + err.Error(), IsError: true}, nil
	}
	if len(params.Tasks) == 0 {
		return &ToolResult{Content: "invalid_arguments: tasks must be non-empty", IsError: true}, nil
	}

	maxDepth := t.spawner.rt.Options.MaxSubAgentDepth
	if maxDepth <= 0 {
		maxDepth = DefaultRuntimeOptions().MaxSubAgentDepth
	}
	depth := subAgentDepthFromContext(ctx)
	if depth >= maxDepth {
		return &ToolResult{Content: "max_depth: parallel_execute nesting limit reached", IsError: true}, nil
	}

	waves, cycleMembers, err := buildWaves(params.Tasks)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("dependency_cycle: %s (tasks: %s)", err.Error(), strings.Join(cycleMembers, ", ")), IsError: true}, nil
	}

	if !t.spawner.reserve(len(params.Tasks)) {
		return &ToolResult{Content: "max_agents: not enough sub-agent capacity for this request", IsError: true}, nil
	}
	defer t.spawner.release(len(params.Tasks))

	byName := make(map[string]parallelTaskSpec, len(params.Tasks))
	declaredOrder := make(map[string]int, len(params.Tasks))
	for i, spec := range params.Tasks {
		byName[spec.Name] = spec
		declaredOrder[spec.Name] = i
	}

	outcomes := make(map[string]models.SubAgentOutcome, len(params.Tasks))
	var mu sync.Mutex
	parentSession := SessionFromContext(ctx)
	childCtx := ctx // parallel_execute children MAY call explore_context

	for _, wave := range waves {
		var wg sync.WaitGroup
		for _, name := range wave {
			spec := byName[name]

			mu.Lock()
			skip := dependencyFailed(spec.DependsOn, outcomes)
			mu.Unlock()
			if skip {
				mu.Lock()
				outcomes[name] = models.SubAgentOutcome{Name: name, Skipped: true, Status: models.ToolStatusError}
				mu.Unlock()
				continue
			}

			wg.Add(1)
			go func(spec parallelTaskSpec) {
				defer wg.Done()
				allowed := excludeParallelExecute(spec.AllowedTools, t.spawner.rt.Registry)
				childSpec := models.SubAgentSpec{
					Name:         spec.Name,
					Task:         spec.Task,
					AllowedTools: allowed,
					DependsOn:    spec.DependsOn,
					Depth:        depth + 1,
				}
				outcome := t.spawner.runChild(childCtx, parentSession, childSpec, capabilityParallelExecute)
				mu.Lock()
				outcomes[spec.Name] = outcome
				mu.Unlock()
			}(spec)
		}
		wg.Wait()
	}

	ordered := make([]models.SubAgentOutcome, len(params.Tasks))
	for name, idx := range declaredOrder {
		ordered[idx] = outcomes[name]
	}

	return &ToolResult{Content: renderOutcomes(ordered), IsError: anyFailed(ordered)}, nil
}

func dependencyFailed(dependsOn []string, outcomes map[string]models.SubAgentOutcome) bool {
	for _, dep := range dependsOn {
		o, ok := outcomes[dep]
		if !ok {
			continue
		}
		if o.Skipped || o.Error != "" {
			return true
		}
	}
	return false
}

// excludeParallelExecute returns allowedTools (or, if empty, every
// registered tool name) with parallel_execute removed -- children never
// recurse into it.
func excludeParallelExecute(allowedTools []string, reg *ToolRegistry) []string {
	names := allowedTools
	if len(names) == 0 {
		names = reg.Names()
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == "parallel_execute" {
			continue
		}
		out = append(out, name)
	}
	return out
}

// buildWaves computes a topologically-ordered wave schedule from explicit
// DependsOn edges, grounded on Kahn's algorithm. Declared task order is
// preserved within each wave (spec: "result ordering on return matches the
// declared task order, not completion order"). On a cycle it returns the
// names of tasks that could not be scheduled.
func buildWaves(tasks []parallelTaskSpec) (waves [][]string, cycleMembers []string, err error) {
	declaredIndex := make(map[string]int, len(tasks))
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for i, tsk := range tasks {
		name := strings.TrimSpace(tsk.Name)
		if name == "" {
			return nil, nil, fmt.Errorf("task at index %d has an empty name", i)
		}
		if _, exists := declaredIndex[name]; exists {
			return nil, nil, fmt.Errorf("duplicate task name %q", name)
		}
		declaredIndex[name] = i
		indegree[name] = 0
	}
	for _, tsk := range tasks {
		for _, dep := range tsk.DependsOn {
			dep = strings.TrimSpace(dep)
			if dep == "" {
				continue
			}
			if _, ok := declaredIndex[dep]; !ok {
				return nil, nil, fmt.Errorf("task %q depends on unknown task %q", tsk.Name, dep)
			}
			indegree[tsk.Name]++
			dependents[dep] = append(dependents[dep], tsk.Name)
		}
	}

	byDeclared := func(names []string) []string {
		out := append([]string(nil), names...)
		for i := 1; i < len(out); i++ {
			for j := i; j > 0 && declaredIndex[out[j-1]] > declaredIndex[out[j]]; j-- {
				out[j-1], out[j] = out[j], out[j-1]
			}
		}
		return out
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	ready = byDeclared(ready)

	processed := 0
	for len(ready) > 0 {
		waves = append(waves, ready)
		var next []string
		for _, name := range ready {
			processed++
			for _, dep := range dependents[name] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		ready = byDeclared(next)
	}

	if processed != len(tasks) {
		for name, deg := range indegree {
			if deg > 0 {
				cycleMembers = append(cycleMembers, name)
			}
		}
		return nil, cycleMembers, fmt.Errorf("dependency cycle detected")
	}

	return waves, nil, nil
}
