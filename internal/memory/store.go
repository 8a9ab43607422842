package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/coop/internal/types"
)

const (
	// ReconcileLimit is the max candidates pulled per write for reconciliation.
	ReconcileLimit = 6

	// ReconcileScoreThreshold is the minimum ranking score a candidate must
	// clear to be considered for reconciliation at all (§12, named constant
	// per spec.md §9's open question).
	ReconcileScoreThreshold = 0.05

	// rankAlpha/rankBeta weight FTS vs. embedding similarity in the combined
	// recall score (§4.5 ranking).
	rankAlpha = 0.6
	rankBeta  = 0.4
)

// Embedder produces a dense vector for a piece of text. A nil Embedder
// disables the embedding half of ranking; candidates then rank on FTS alone.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ReconcileCandidate is one existing observation offered to the reconciler
// alongside the incoming write.
type ReconcileCandidate struct {
	Index        int
	Score        float64
	MentionCount int
	CreatedAt    time.Time
	Observation  types.Observation
}

// ReconcileDecisionKind is the reconciler's verdict for an incoming write.
type ReconcileDecisionKind string

const (
	DecisionAdd    ReconcileDecisionKind = "add"
	DecisionUpdate ReconcileDecisionKind = "update"
	DecisionDelete ReconcileDecisionKind = "delete"
	DecisionNone   ReconcileDecisionKind = "none"
)

// ReconcileDecision is the reconciler's structured output.
type ReconcileDecision struct {
	Kind            ReconcileDecisionKind
	CandidateIndex  int
	MergedObservation types.Observation
}

// Reconciler is the LLM-mediated ADD/UPDATE/DELETE/NONE decision procedure.
type Reconciler interface {
	Reconcile(ctx context.Context, incoming types.Observation, candidates []ReconcileCandidate) (ReconcileDecision, error)
}

// WriteOutcome reports what a Write call actually did.
type WriteOutcome string

const (
	OutcomeAdded     WriteOutcome = "added"
	OutcomeUpdated   WriteOutcome = "updated"
	OutcomeDeleted   WriteOutcome = "deleted" // old row expired, new row inserted
	OutcomeSkipped   WriteOutcome = "skipped"
	OutcomeExactDup  WriteOutcome = "exact_dup"
)

// Store is Coop's structured memory: a single sqlite connection guarded by
// one mutex (§5 — contention is acceptable for a local single-node store).
type Store struct {
	db         *sql.DB
	mu         sync.Mutex
	embedder   Embedder
	reconciler Reconciler
	now        func() time.Time
	newID      func() string
	onWrite    func(WriteOutcome)
}

// Option configures a Store at construction time.
type Option func(*Store)

func WithEmbedder(e Embedder) Option       { return func(s *Store) { s.embedder = e } }
func WithReconciler(r Reconciler) Option    { return func(s *Store) { s.reconciler = r } }
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }
func WithIDGenerator(f func() string) Option {
	return func(s *Store) { s.newID = f }
}

// WithWriteObserver registers a callback invoked with the outcome of every
// Write that succeeds, exact duplicates included; a Write that returns an
// error reports nothing. Used to feed metrics.Metrics.RecordMemoryWrite
// without making this package depend on the metrics package.
func WithWriteObserver(f func(WriteOutcome)) Option {
	return func(s *Store) { s.onWrite = f }
}

// Open opens (creating if absent) the sqlite-backed memory store at path and
// applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single connection; the mutex is the real guard

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: apply schema: %w", err)
	}

	s := &Store{
		db:    db,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// normalizeTitle lowercases and collapses whitespace, matching the Rust
// original's normalize_title used for both hashing and compression clustering.
func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// ComputeHash derives an observation's content hash from its normalized
// title and sorted facts (§3 invariant).
func ComputeHash(title string, facts []string) string {
	sorted := append([]string(nil), facts...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(normalizeTitle(title)))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}

func marshalStrings(ss []string) string {
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(s string) []string {
	var out []string
	if s == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}
