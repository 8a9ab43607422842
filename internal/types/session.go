package types

import (
	"fmt"
	"strings"
	"time"
)

// SessionKind discriminates how a SessionKey was derived.
type SessionKind string

const (
	SessionMain  SessionKind = "main"
	SessionCron  SessionKind = "cron"
	SessionDM    SessionKind = "dm"
	SessionGroup SessionKind = "group"
)

// SessionKey identifies a durable conversation: "{agent_id}:{kind}:{discriminator?}".
type SessionKey string

func MainSessionKey(agentID string) SessionKey {
	return SessionKey(fmt.Sprintf("%s:main", agentID))
}

func DMSessionKey(agentID, channel, target string) SessionKey {
	return SessionKey(fmt.Sprintf("%s:dm:%s:%s", agentID, channel, target))
}

func GroupSessionKey(agentID, channel, hexGroup string) SessionKey {
	return SessionKey(fmt.Sprintf("%s:group:%s:group:%s", agentID, channel, hexGroup))
}

func CronSessionKey(agentID, cronName string) SessionKey {
	return SessionKey(fmt.Sprintf("%s:cron:%s", agentID, cronName))
}

// Kind extracts the SessionKind encoded in the key's second segment.
func (k SessionKey) Kind() SessionKind {
	parts := strings.SplitN(string(k), ":", 3)
	if len(parts) < 2 {
		return SessionMain
	}
	return SessionKind(parts[1])
}

// DMChannelTarget extracts channel and target from a "*:dm:<channel>:<target>"
// key. Returns ok=false for any other shape.
func (k SessionKey) DMChannelTarget() (channel, target string, ok bool) {
	parts := strings.SplitN(string(k), ":", 4)
	if len(parts) != 4 || parts[1] != "dm" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// FileAction is what happened to a file touched during a turn.
type FileAction string

const (
	FileRead     FileAction = "read"
	FileCreated  FileAction = "created"
	FileModified FileAction = "modified"
	FileDeleted  FileAction = "deleted"
)

// fileActionRank orders actions for the merge-upgrade rule: Deleted always
// dominates; otherwise the higher rank wins, with Read the weakest.
var fileActionRank = map[FileAction]int{
	FileRead:     0,
	FileModified: 1,
	FileCreated:  1,
	FileDeleted:  2,
}

// MergeFileAction applies the compaction engine's precedence rule (§4.4):
// Deleted dominates; Read is upgraded by any other action; otherwise the
// existing action is preserved.
func MergeFileAction(existing, incoming FileAction) FileAction {
	if existing == FileDeleted || incoming == FileDeleted {
		return FileDeleted
	}
	if fileActionRank[incoming] > fileActionRank[existing] {
		return incoming
	}
	return existing
}

type FileTouched struct {
	Path   string     `json:"path"`
	Action FileAction `json:"action"`
}

// CompactionState is the persisted summary of history older than a cut-point.
type CompactionState struct {
	Summary              string        `json:"summary"`
	FilesTouched         []FileTouched `json:"files_touched"`
	CompactionCount      int           `json:"compaction_count"`
	TokensAtCompaction    int           `json:"tokens_at_compaction"`
	CreatedAt            time.Time     `json:"created_at"`
	MessagesAtCompaction int           `json:"messages_at_compaction"`
}

// Session is the persisted state for one SessionKey.
type Session struct {
	Key        SessionKey       `json:"key"`
	Kind       SessionKind      `json:"kind"`
	Messages   []Message        `json:"messages"`
	Compaction *CompactionState `json:"compaction,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	LastActive time.Time        `json:"last_active"`
}
