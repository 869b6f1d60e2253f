package agent

// AgentType identifies which CLI backend to use (single choice at server startup).
type AgentType string

const (
	TypeClaude      AgentType = "claude"
	TypeCursorAgent AgentType = "cursor-agent"
)

// Default is the default agent type when none is specified.
const Default AgentType = TypeClaude

// Preset is the command line used for a backend in single-shot text mode.
type Preset struct {
	Command string
	Args    []string
}

// Presets maps each supported backend to its non-interactive invocation.
var Presets = map[AgentType]Preset{
	TypeClaude: {
		Command: "claude",
		Args:    []string{"--print", "--output-format", "text", "--dangerously-skip-permissions"},
	},
	TypeCursorAgent: {
		Command: "cursor-agent",
		Args:    []string{"--print", "--output-format", "text", "--force"},
	},
}

// IsValid returns true if the agent type is supported.
func (t AgentType) IsValid() bool {
	switch t {
	case TypeClaude, TypeCursorAgent:
		return true
	default:
		return false
	}
}
