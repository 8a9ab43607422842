package turn

// EventKind discriminates the sum-type Event stream a turn emits.
type EventKind string

const (
	// EventPartial carries assistant text: pre-tool commentary, emitted
	// before the tools it precedes run so it can be delivered immediately,
	// and the final reply text of a response with no tool calls.
	EventPartial EventKind = "partial"

	// EventToolStart fires just before a tool call is dispatched.
	EventToolStart EventKind = "tool_start"

	// EventToolResult fires once a tool call completes.
	EventToolResult EventKind = "tool_result"

	// EventDone fires exactly once, terminating the stream.
	EventDone EventKind = "done"
)

// Event is one entry in the ordered stream a turn produces: Partial*,
// (ToolStart, ToolResult)*, ..., Done. Consumers stop reading after Done.
type Event struct {
	Kind EventKind

	// Partial
	Text string

	// ToolStart / ToolResult
	ToolCallID string
	ToolName   string
	ToolArgs   []byte
	ToolOutput string
	ToolError  bool

	// Done
	Usage Usage
	Err   error
}

// Usage is the token accounting for a completed turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Sink receives the Event stream from a running turn. Implementations must
// be safe to call from the goroutine driving the turn; they are called
// synchronously and should not block for long.
type Sink interface {
	Emit(e Event)
}

// ChanSink delivers events to a channel, dropping them rather than blocking
// if the channel is unbuffered or full — a slow consumer must not stall the
// turn loop.
type ChanSink struct {
	ch chan<- Event
}

// NewChanSink wraps a channel as a Sink. The channel should be buffered.
func NewChanSink(ch chan<- Event) ChanSink { return ChanSink{ch: ch} }

func (s ChanSink) Emit(e Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// CallbackSink adapts a plain function to a Sink, for tests and simple
// in-process consumers that don't need a channel.
type CallbackSink func(Event)

func (f CallbackSink) Emit(e Event) { f(e) }

// CollectingSink records every event it receives, in order. Not safe for
// concurrent Emit calls, which a single turn never makes.
type CollectingSink struct {
	Events []Event
}

func (s *CollectingSink) Emit(e Event) { s.Events = append(s.Events, e) }

func doneEvent(usage Usage) Event { return Event{Kind: EventDone, Usage: usage} }

func errorEvent(err error) Event { return Event{Kind: EventDone, Err: err} }

func partialEvent(text string) Event { return Event{Kind: EventPartial, Text: text} }

func toolStartEvent(id, name string, args []byte) Event {
	return Event{Kind: EventToolStart, ToolCallID: id, ToolName: name, ToolArgs: args}
}

func toolResultEvent(id string, output string, isError bool) Event {
	return Event{Kind: EventToolResult, ToolCallID: id, ToolOutput: output, ToolError: isError}
}
