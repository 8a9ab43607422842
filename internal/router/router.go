// Package router maps inbound channel messages onto turn-engine sessions:
// resolving sender identity and trust, deriving the SessionKey a message
// belongs to, serializing concurrent turns on the same session, and driving
// a typing indicator for the duration of the turn.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/haasonsaas/coop/internal/turn"
	"github.com/haasonsaas/coop/internal/types"
)

// MessageKind discriminates the inbound record kinds a channel adapter can
// deliver.
type MessageKind string

const (
	KindText       MessageKind = "text"
	KindReaction   MessageKind = "reaction"
	KindTyping     MessageKind = "typing"
	KindReceipt    MessageKind = "receipt"
	KindEdit       MessageKind = "edit"
	KindAttachment MessageKind = "attachment"
)

// dispatchable reports whether this kind should reach the turn engine.
// Typing and Receipt are observed silently — they update presence state but
// never start a turn.
func (k MessageKind) dispatchable() bool {
	switch k {
	case KindTyping, KindReceipt:
		return false
	default:
		return true
	}
}

// TerminalChannel is the channel name the interactive terminal front-end
// reports, routed to the agent's single main session rather than a DM.
const TerminalChannel = "terminal"

// Inbound is one inbound message handed to the Router by a channel adapter.
type Inbound struct {
	Channel          string
	Sender           string
	Content          string
	ChatID           string
	IsGroup          bool
	Timestamp        time.Time
	ReplyTo          string
	Kind             MessageKind
	MessageTimestamp time.Time
}

// Dispatched is what the Router resolved an Inbound message to, before
// handing it to the turn engine.
type Dispatched struct {
	SessionKey  types.SessionKey
	SessionKind types.SessionKind
	Trust       types.TrustLevel
	UserName    string
	ReplyTarget string
}

// Router resolves inbound messages to sessions and runs turns against them,
// holding one lock per SessionKey so a conversation never runs two turns
// concurrently.
type Router struct {
	agentID  string
	identity *IdentityResolver
	engine   *turn.Engine
	typing   TypingNotifier
	locks    *SessionLocks
	logger   *slog.Logger
}

// Option configures a Router at construction time.
type Option func(*Router)

func WithTypingNotifier(t TypingNotifier) Option { return func(r *Router) { r.typing = t } }
func WithLogger(logger *slog.Logger) Option      { return func(r *Router) { r.logger = logger } }

// NewRouter builds a Router over a turn engine and identity table.
func NewRouter(agentID string, identity *IdentityResolver, engine *turn.Engine, opts ...Option) *Router {
	r := &Router{
		agentID:  agentID,
		identity: identity,
		engine:   engine,
		locks:    NewSessionLocks(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve maps an Inbound message to its SessionKey, trust, and reply
// target, without dispatching it. Callers use this to decide whether to
// call Dispatch at all (e.g. to skip Typing/Receipt kinds up front).
func (r *Router) Resolve(in Inbound) Dispatched {
	name, trust := r.identity.Resolve(in)
	key, kind := r.deriveSessionKey(in)
	return Dispatched{
		SessionKey:  key,
		SessionKind: kind,
		Trust:       trust,
		UserName:    name,
		ReplyTarget: replyTarget(in),
	}
}

// Dispatch resolves and runs a turn for an Inbound message. It returns
// (false, nil) without running a turn for kinds the filtering policy
// observes silently (Typing, Receipt).
func (r *Router) Dispatch(ctx context.Context, in Inbound, sink turn.Sink) (bool, error) {
	if !in.Kind.dispatchable() {
		return false, nil
	}

	resolved := r.Resolve(in)

	unlock := r.locks.Lock(resolved.SessionKey)
	defer unlock()

	stopTyping := func() {}
	if r.typing != nil {
		if stop, err := r.typing.StartTyping(ctx, in.Channel, resolved.ReplyTarget); err == nil {
			stopTyping = guardedStop(stop)
		} else {
			r.logger.Warn("typing indicator failed to start", "channel", in.Channel, "error", err)
		}
	}
	defer stopTyping()

	wrapped := turn.CallbackSink(func(e turn.Event) {
		if e.Kind == turn.EventPartial || e.Kind == turn.EventDone {
			stopTyping()
		}
		sink.Emit(e)
	})

	err := r.engine.RunTurn(ctx, turn.Input{
		SessionKey:  resolved.SessionKey,
		SessionKind: resolved.SessionKind,
		UserInput:   in.Content,
		Trust:       resolved.Trust,
		UserName:    resolved.UserName,
		Channel:     in.Channel,
	}, wrapped)
	if err != nil {
		r.logger.Error("turn failed", "session", resolved.SessionKey, "error", err)
	}
	return true, err
}

// deriveSessionKey implements the session-derivation rules: the terminal
// channel always maps to the agent's main session, groups hash their chat ID
// into a session key so raw chat identifiers never appear in filenames or
// logs, and everything else is a DM keyed by channel and sender.
func (r *Router) deriveSessionKey(in Inbound) (types.SessionKey, types.SessionKind) {
	switch {
	case in.Channel == TerminalChannel:
		return types.MainSessionKey(r.agentID), types.SessionMain
	case in.IsGroup:
		return types.GroupSessionKey(r.agentID, in.Channel, hexGroupKey(in.ChatID)), types.SessionGroup
	default:
		return types.DMSessionKey(r.agentID, in.Channel, in.Sender), types.SessionDM
	}
}

// replyTarget picks the outbound destination: an explicit reply_to wins,
// else groups reply to their hashed group key, else DMs reply to the sender.
func replyTarget(in Inbound) string {
	if in.ReplyTo != "" {
		return in.ReplyTo
	}
	if in.IsGroup {
		return "group:" + hexGroupKey(in.ChatID)
	}
	return in.Sender
}

// hexGroupKey derives a stable, non-reversible identifier for a group chat
// so the raw chat_id (which may be sensitive or provider-specific) never
// leaks into session keys, file names, or logs.
func hexGroupKey(chatID string) string {
	sum := sha256.Sum256([]byte(chatID))
	return hex.EncodeToString(sum[:])[:16]
}
