package domain

import "time"

// LaunchType describes how a tool server process is started.
type LaunchType string

const (
	// LaunchEmbedded re-invokes the toolbus binary itself as a worker.
	LaunchEmbedded LaunchType = "embedded"
	// LaunchExternal runs an arbitrary command from the descriptor.
	LaunchExternal LaunchType = "external"
)

// ServerDescriptor is the static configuration of one tool server.
// It is loaded once from configuration and never mutated afterwards.
type ServerDescriptor struct {
	Name    string     `yaml:"-"`
	Enabled bool       `yaml:"enabled"`
	Type    LaunchType `yaml:"type"`
	Command string     `yaml:"command"`
	Args    []string   `yaml:"args"`
	Dir     string     `yaml:"dir"`
	// Env values may reference host environment variables as ${NAME};
	// substitution happens at launch time, not at load time.
	Env map[string]string `yaml:"env"`
	// AllowedTools restricts which tools callers may invoke on this
	// server. Empty means all tools are permitted.
	AllowedTools []string `yaml:"allowed_tools"`
}

// Allows reports whether the descriptor's allow-list permits the tool.
func (d ServerDescriptor) Allows(tool string) bool {
	if len(d.AllowedTools) == 0 {
		return true
	}
	for _, t := range d.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// ServerStatus is an observability snapshot of one supervised server.
type ServerStatus struct {
	Running bool          `json:"running"`
	PID     int           `json:"pid,omitempty"`
	Uptime  time.Duration `json:"uptime,omitempty"`
	Retries int           `json:"retries"`
}

// ToolInfo describes one tool advertised by a server via tools/list.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Step is one entry in a workflow. It is either a single executor
// invocation or a parallel group of them, never both.
type Step struct {
	Executor string `yaml:"executor" mapstructure:"executor"`
	// Input is merged over the task-level input before execution.
	Input map[string]any `yaml:"input" mapstructure:"input"`
	// InputMapping values use the "$step.dotted.path" reference syntax
	// and are resolved against prior steps' results.
	InputMapping map[string]string `yaml:"input_mapping" mapstructure:"input_mapping"`
	// Parallel members run concurrently; the step settles only after
	// every member has settled.
	Parallel []Step `yaml:"parallel" mapstructure:"parallel"`
}

// IsParallel reports whether the step is a parallel group.
func (s Step) IsParallel() bool { return len(s.Parallel) > 0 }

// Workflow is a named, ordered list of steps.
type Workflow struct {
	Name        string `yaml:"-"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Result is what survives an executor boundary. Executors summarize
// large intermediate state before placing it in Data.
type Result struct {
	Executor  string         `json:"executor"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Synthesis selects how executor results are reduced to one answer.
// Mode "default" (or empty) keys each executor's Data by its name,
// "select" picks individual fields via $step.path references, and
// "merge" shallow-merges all Data maps in execution order.
type Synthesis struct {
	Mode   string            `yaml:"mode" json:"mode"`
	Select map[string]string `yaml:"select" json:"select,omitempty"`
}

// Task is a request to run one named workflow.
type Task struct {
	Type      string         `json:"type"`
	Input     map[string]any `json:"input,omitempty"`
	Synthesis *Synthesis     `json:"synthesis,omitempty"`
}

// RunMetadata describes a completed workflow run.
type RunMetadata struct {
	Workflow      string        `json:"workflow"`
	RunID         string        `json:"runId"`
	ExecutorsUsed []string      `json:"executorsUsed"`
	Duration      time.Duration `json:"totalDuration"`
}

// RunResult is the synthesized output of a workflow run.
type RunResult struct {
	Data     map[string]any `json:"data"`
	Metadata RunMetadata    `json:"metadata"`
}
