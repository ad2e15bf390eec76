package sink

// Kind identifies what an Event carries.
type Kind int

const (
	// KindToolStart opens a step: the engine decided to call a named tool.
	KindToolStart Kind = iota + 1
	// KindToolArguments is one incremental fragment of the current step's arguments.
	KindToolArguments
	// KindStepEnd closes the current step.
	KindStepEnd
)

func (k Kind) String() string {
	switch k {
	case KindToolStart:
		return "tool_start"
	case KindToolArguments:
		return "tool_arguments"
	case KindStepEnd:
		return "step_end"
	default:
		return "unknown"
	}
}

// Event is the unit passed from the engine side of a Sink to its consumer.
type Event struct {
	Kind     Kind   `json:"kind"`
	ToolName string `json:"tool_name,omitempty"` // set for KindToolStart
	Fragment string `json:"fragment,omitempty"`  // set for KindToolArguments
}

// ToolStart builds a KindToolStart event.
func ToolStart(name string) Event {
	return Event{Kind: KindToolStart, ToolName: name}
}

// ToolArguments builds a KindToolArguments event.
func ToolArguments(fragment string) Event {
	return Event{Kind: KindToolArguments, Fragment: fragment}
}

// StepEnd builds a KindStepEnd event.
func StepEnd() Event {
	return Event{Kind: KindStepEnd}
}
