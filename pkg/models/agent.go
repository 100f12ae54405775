package models

// AgentContext carries the per-request state handed to an agent loop.
type AgentContext struct {
	SessionID string
	UserEmail string
	Files     map[string]FileRef
	History   []Message
}

// AgentEventType enumerates the events an agent loop emits while running.
type AgentEventType string

const (
	AgentEventStart        AgentEventType = "agent_start"
	AgentEventTurnStart    AgentEventType = "agent_turn_start"
	AgentEventReason       AgentEventType = "agent_reason"
	AgentEventRequestInput AgentEventType = "agent_request_input"
	AgentEventToolStart    AgentEventType = "agent_tool_start"
	AgentEventToolComplete AgentEventType = "agent_tool_complete"
	AgentEventToolResults  AgentEventType = "agent_tool_results"
	AgentEventObserve      AgentEventType = "agent_observe"
	AgentEventCompletion   AgentEventType = "agent_completion"
	AgentEventTokenStream  AgentEventType = "agent_token_stream"
	AgentEventError        AgentEventType = "agent_error"
)

// AgentEvent is a single loop-visibility event. Payload keys depend on the
// type (e.g. {"step": 2} for agent_turn_start).
type AgentEvent struct {
	Type    AgentEventType `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// AgentStep records one reason/act/observe cycle for the final result.
type AgentStep struct {
	Step        int          `json:"step"`
	Thought     string       `json:"thought,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Observation string       `json:"observation,omitempty"`
}

// AgentResult is the terminal outcome of an agent loop.
type AgentResult struct {
	FinalAnswer string         `json:"final_answer"`
	Steps       []AgentStep    `json:"steps"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
