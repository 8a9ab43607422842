// Package turn drives one conversational turn to completion against a
// single session: building the system prompt, calling the provider,
// dispatching tool calls, compacting history, and persisting the result.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/coop/internal/compaction"
	"github.com/haasonsaas/coop/internal/metrics"
	"github.com/haasonsaas/coop/internal/prompt"
	"github.com/haasonsaas/coop/internal/provider"
	"github.com/haasonsaas/coop/internal/tools"
	"github.com/haasonsaas/coop/internal/types"
)

// Config bounds a turn's resource usage. Zero values fall back to
// DefaultConfig's values via NewEngine.
type Config struct {
	// MaxIterations caps the number of provider↔tool round trips in the
	// agent loop, guarding against a model stuck calling tools forever.
	MaxIterations int

	// Model is the default model ID sent to the provider.
	Model string

	// MaxTokens is the default max output tokens per provider call.
	MaxTokens int

	// MinTurnMessages is the minimum number of new messages a turn must
	// produce before a memory capture is worth enqueuing.
	MinTurnMessages int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:   10,
		Model:           "claude-sonnet-4-5-20250929",
		MaxTokens:       4096,
		MinTurnMessages: 2,
	}
}

// CaptureFunc is invoked asynchronously after a turn persists, when the
// turn produced enough new messages to be worth remembering. It must not
// block the caller for long; Engine runs it in its own goroutine.
type CaptureFunc func(ctx context.Context, key types.SessionKey, messages []types.Message)

// MemoryIndexFunc supplies the recent-memory entries offered alongside the
// workspace file menu, per trust level.
type MemoryIndexFunc func(ctx context.Context, trust types.TrustLevel) ([]prompt.MemoryIndexEntry, error)

// Engine runs turns against Sessions, coordinating the prompt builder,
// provider, tool registry, and compaction engine.
type Engine struct {
	provider   *provider.Provider
	tools      *tools.Registry
	sessions   SessionStore
	summarizer compaction.Summarizer

	workspace     string
	agentID       string
	index         *prompt.WorkspaceIndex
	fileSpecs     []prompt.FileSpec
	userFileSpecs []prompt.FileSpec
	skills        []prompt.SkillEntry
	tokenBudget   int
	memoryIndex   MemoryIndexFunc
	capture       CaptureFunc

	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithConfig(cfg Config) Option                    { return func(e *Engine) { e.cfg = cfg } }
func WithFileSpecs(specs []prompt.FileSpec) Option     { return func(e *Engine) { e.fileSpecs = specs } }
func WithUserFileSpecs(specs []prompt.FileSpec) Option { return func(e *Engine) { e.userFileSpecs = specs } }
func WithSkills(skills []prompt.SkillEntry) Option     { return func(e *Engine) { e.skills = skills } }
func WithTokenBudget(budget int) Option                { return func(e *Engine) { e.tokenBudget = budget } }
func WithMemoryIndex(f MemoryIndexFunc) Option         { return func(e *Engine) { e.memoryIndex = f } }
func WithCapture(f CaptureFunc) Option                 { return func(e *Engine) { e.capture = f } }
func WithSummarizer(s compaction.Summarizer) Option    { return func(e *Engine) { e.summarizer = s } }
func WithClock(now func() time.Time) Option            { return func(e *Engine) { e.now = now } }
func WithLogger(logger *slog.Logger) Option            { return func(e *Engine) { e.logger = logger } }
func WithMetrics(m *metrics.Metrics) Option             { return func(e *Engine) { e.metrics = m } }

// NewEngine wires a turn engine over a provider, tool registry, session
// store, and workspace, ready to drive RunTurn calls.
func NewEngine(p *provider.Provider, reg *tools.Registry, sessions SessionStore, workspace, agentID string, opts ...Option) *Engine {
	e := &Engine{
		provider:  p,
		tools:     reg,
		sessions:  sessions,
		workspace: workspace,
		agentID:   agentID,
		index:     prompt.NewWorkspaceIndex(slog.Default()),
		fileSpecs: prompt.DefaultFileSpecs(),
		cfg:       DefaultConfig(),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	def := DefaultConfig()
	if e.cfg.MaxIterations == 0 {
		e.cfg.MaxIterations = def.MaxIterations
	}
	if e.cfg.Model == "" {
		e.cfg.Model = def.Model
	}
	if e.cfg.MaxTokens == 0 {
		e.cfg.MaxTokens = def.MaxTokens
	}
	if e.cfg.MinTurnMessages == 0 {
		e.cfg.MinTurnMessages = def.MinTurnMessages
	}
	return e
}

// Input parameterizes one RunTurn call.
type Input struct {
	SessionKey  types.SessionKey
	SessionKind types.SessionKind
	UserInput   string
	Trust       types.TrustLevel
	UserName    string
	Channel     string
}

// RunTurn drives a turn to completion, emitting Partial/ToolStart/
// ToolResult/Done events to sink as it goes, and persisting the resulting
// session snapshot before returning.
func (e *Engine) RunTurn(ctx context.Context, in Input, sink Sink) error {
	start := e.now()
	status := "ok"
	defer func() { e.metrics.ObserveTurn(in.Channel, status, e.now().Sub(start)) }()

	session, err := e.resolveSession(ctx, in)
	if err != nil {
		status = "error"
		sink.Emit(errorEvent(err))
		return err
	}

	startLen := len(session.Messages)
	session.Messages = append(session.Messages, types.Message{
		Role:      types.RoleUser,
		Blocks:    []types.Block{types.TextBlock(in.UserInput)},
		Timestamp: e.now(),
	})

	systemPrompt, err := e.buildSystemPrompt(ctx, in)
	if err != nil {
		status = "error"
		sink.Emit(errorEvent(err))
		return err
	}

	toolCtx := tools.WithExecContext(ctx, tools.ExecContext{
		SessionKey: in.SessionKey,
		UserName:   in.UserName,
		Trust:      in.Trust,
	})

	for iter := 0; iter < e.cfg.MaxIterations; iter++ {
		providerMessages := compaction.BuildProviderContext(session.Messages, session.Compaction)

		req := provider.CompletionRequest{
			Model:     e.cfg.Model,
			System:    systemPrompt,
			Messages:  providerMessages,
			Tools:     e.toolDefs(),
			MaxTokens: e.cfg.MaxTokens,
		}

		assistant, usage, err := e.complete(ctx, req)
		if err != nil {
			status = "error"
			sink.Emit(errorEvent(err))
			return err
		}

		// flushPrecedingText emits every Text block up to the first
		// ToolRequest block (or all of them, if there is none) as Partial
		// events, so the final reply text reaches the sink exactly like any
		// pre-tool commentary does.
		e.flushPrecedingText(assistant, sink)
		session.Messages = append(session.Messages, assistant)

		toolRequests := assistant.ToolRequests()
		if len(toolRequests) == 0 {
			sink.Emit(doneEvent(Usage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}))
			return e.finish(ctx, in.SessionKey, session, startLen)
		}

		resultMessage := e.executeTools(toolCtx, toolRequests, sink)
		session.Messages = append(session.Messages, resultMessage)

		if compaction.ShouldCompact(usage.InputTokens) {
			if err := e.compact(ctx, session); err != nil {
				e.logger.Error("compaction failed", "session", in.SessionKey, "error", err)
			}
		}
	}

	status = "max_iterations"
	iterErr := fmt.Errorf("turn: exceeded max iterations (%d) for session %s", e.cfg.MaxIterations, in.SessionKey)
	sink.Emit(errorEvent(iterErr))
	if err := e.finish(ctx, in.SessionKey, session, startLen); err != nil {
		e.logger.Error("failed to persist session after max-iterations abort", "session", in.SessionKey, "error", err)
	}
	return iterErr
}

func (e *Engine) resolveSession(ctx context.Context, in Input) (*types.Session, error) {
	existing, ok, err := e.sessions.Get(ctx, in.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("turn: load session %s: %w", in.SessionKey, err)
	}
	if ok {
		return existing, nil
	}
	return &types.Session{
		Key:        in.SessionKey,
		Kind:       in.SessionKind,
		CreatedAt:  e.now(),
		LastActive: e.now(),
	}, nil
}

func (e *Engine) buildSystemPrompt(ctx context.Context, in Input) (string, error) {
	if _, err := e.index.Refresh(e.workspace, e.fileSpecs); err != nil {
		return "", fmt.Errorf("turn: refresh prompt index: %w", err)
	}

	var extraMenu []prompt.MemoryIndexEntry
	if e.memoryIndex != nil {
		entries, err := e.memoryIndex(ctx, in.Trust)
		if err != nil {
			e.logger.Warn("recent memory index unavailable", "error", err)
		} else {
			extraMenu = entries
		}
	}

	budget := e.tokenBudget
	opts := []prompt.Option{
		prompt.WithTrust(in.Trust),
		prompt.WithSessionKind(string(in.SessionKind)),
		prompt.WithModel(e.cfg.Model),
		prompt.WithChannel(in.Channel),
		prompt.WithUser(in.UserName),
		prompt.WithFileSpecs(e.fileSpecs),
		prompt.WithUserFileSpecs(e.userFileSpecs),
		prompt.WithSkills(e.skills),
		prompt.WithExtraMenuEntries(extraMenu),
		prompt.WithClock(e.now),
		prompt.WithLogger(e.logger),
	}
	if budget > 0 {
		opts = append(opts, prompt.WithTokenBudget(budget))
	}

	builder := prompt.NewBuilder(e.workspace, e.agentID, opts...)
	built, err := builder.Build(e.index)
	if err != nil {
		return "", fmt.Errorf("turn: build system prompt: %w", err)
	}
	return built.ToFlatString(), nil
}

func (e *Engine) toolDefs() []provider.ToolDef {
	specs := e.tools.Specs()
	defs := make([]provider.ToolDef, 0, len(specs))
	for _, s := range specs {
		defs = append(defs, provider.ToolDef{Name: s.Name, Description: s.Description, Schema: s.Schema})
	}
	return defs
}

// complete drains a provider completion stream into one assistant Message
// plus its usage, accumulating text and thinking deltas into single blocks
// and passing already-assembled tool-call blocks through unchanged.
func (e *Engine) complete(ctx context.Context, req provider.CompletionRequest) (types.Message, Usage, error) {
	ch, err := e.provider.Complete(ctx, req)
	if err != nil {
		return types.Message{}, Usage{}, err
	}

	var blocks []types.Block
	var text, thinking strings.Builder
	var usage Usage

	flushText := func() {
		if text.Len() > 0 {
			blocks = append(blocks, types.TextBlock(text.String()))
			text.Reset()
		}
	}

	for chunk := range ch {
		switch {
		case chunk.Error != nil:
			return types.Message{}, Usage{}, chunk.Error
		case chunk.ThinkingStart:
			flushText()
		case chunk.ThinkingEnd:
			if thinking.Len() > 0 {
				blocks = append(blocks, types.Block{Kind: types.BlockThinking, Text: thinking.String()})
				thinking.Reset()
			}
		case chunk.Thinking != "":
			thinking.WriteString(chunk.Thinking)
		case chunk.Text != "":
			text.WriteString(chunk.Text)
		case chunk.ToolCall != nil:
			flushText()
			blocks = append(blocks, *chunk.ToolCall)
		case chunk.Done:
			flushText()
			usage = Usage{InputTokens: chunk.InputTokens, OutputTokens: chunk.OutputTokens}
		}
	}

	return types.Message{Role: types.RoleAssistant, Blocks: blocks, Timestamp: e.now()}, usage, nil
}

// flushPrecedingText emits any Text blocks that precede the first
// ToolRequest block as a Partial event, so a channel-facing caller can
// deliver commentary before the tools it describes actually run. This
// ordering is load-bearing: callers must not buffer Partial events behind
// ToolStart/ToolResult ones.
func (e *Engine) flushPrecedingText(assistant types.Message, sink Sink) {
	for _, b := range assistant.Blocks {
		if b.Kind == types.BlockToolRequest {
			return
		}
		if b.Kind == types.BlockText && b.Text != "" {
			sink.Emit(partialEvent(b.Text))
		}
	}
}

// executeTools runs every tool request in order, emitting ToolStart/
// ToolResult around each, and collects the results into one user Message.
func (e *Engine) executeTools(ctx context.Context, requests []types.Block, sink Sink) types.Message {
	var resultBlocks []types.Block
	for _, req := range requests {
		sink.Emit(toolStartEvent(req.ToolID, req.ToolName, req.Args))

		toolStart := e.now()
		result := e.tools.Execute(ctx, req.ToolName, req.Args)
		toolStatus := "ok"
		if result.IsError {
			toolStatus = "error"
		}
		e.metrics.ObserveTool(req.ToolName, toolStatus, e.now().Sub(toolStart))

		sink.Emit(toolResultEvent(req.ToolID, result.Content, result.IsError))
		resultBlocks = append(resultBlocks, types.ToolResultBlock(req.ToolID, result.Content, result.IsError))
	}
	return types.Message{Role: types.RoleUser, Blocks: resultBlocks, Timestamp: e.now()}
}

func (e *Engine) compact(ctx context.Context, session *types.Session) error {
	if e.summarizer == nil {
		return nil
	}
	start := e.now()
	state, err := compaction.Compact(ctx, e.summarizer, session.Messages, session.Compaction, e.now())
	if err != nil {
		e.metrics.ObserveCompaction("error", e.now().Sub(start))
		return err
	}
	e.metrics.ObserveCompaction("ok", e.now().Sub(start))
	session.Compaction = state
	return nil
}

func (e *Engine) finish(ctx context.Context, key types.SessionKey, session *types.Session, startLen int) error {
	session.LastActive = e.now()
	if err := e.sessions.Save(ctx, session); err != nil {
		return fmt.Errorf("turn: save session %s: %w", key, err)
	}

	produced := len(session.Messages) - startLen
	if e.capture != nil && produced >= e.cfg.MinTurnMessages {
		newMessages := append([]types.Message(nil), session.Messages[startLen:]...)
		go e.capture(context.WithoutCancel(ctx), key, newMessages)
	}
	return nil
}
