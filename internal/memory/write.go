package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/coop/internal/types"
)

// Write inserts, merges, or supersedes an observation. It always runs the
// exact-duplicate check first, then (unless that short-circuits) recalls up
// to ReconcileLimit similar observations and hands them to the configured
// Reconciler, falling back to a plain ADD whenever reconciliation can't run
// or returns something unusable.
func (s *Store) Write(ctx context.Context, obs types.Observation) (WriteOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	obs.Hash = ComputeHash(obs.Title, obs.Facts)
	if obs.TokenCount == 0 {
		obs.TokenCount = estimateTokenCount(obs.Title, obs.Narrative, obs.Facts)
	}
	if obs.MinTrust == 0 && obs.Store != "" {
		obs.MinTrust = types.MinTrustForStore(obs.Store)
	}

	dup, err := s.bumpExactDuplicate(ctx, obs.AgentID, obs.Hash, now)
	if err != nil {
		return "", fmt.Errorf("memory: check duplicate: %w", err)
	}
	if dup {
		if s.onWrite != nil {
			s.onWrite(OutcomeExactDup)
		}
		return OutcomeExactDup, nil
	}

	candidates, err := s.findReconcileCandidates(ctx, obs)
	if err != nil {
		return "", fmt.Errorf("memory: find candidates: %w", err)
	}

	decision := s.resolveReconciliation(ctx, obs, candidates)

	outcome, err := s.applyDecision(ctx, obs, candidates, decision, now)
	if err == nil && s.onWrite != nil {
		s.onWrite(outcome)
	}
	return outcome, err
}

func (s *Store) bumpExactDuplicate(ctx context.Context, agentID, hash string, now time.Time) (bool, error) {
	var id string
	var mentionCount int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, mention_count FROM observations
		WHERE agent_id = ? AND hash = ? AND (expires_at IS NULL OR expires_at > ?)
	`, agentID, hash, now.UnixMilli()).Scan(&id, &mentionCount)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = s.db.ExecContext(ctx, `UPDATE observations SET mention_count = ?, updated_at = ? WHERE id = ?`,
		mentionCount+1, now.UnixMilli(), id)
	return true, err
}

func (s *Store) findReconcileCandidates(ctx context.Context, incoming types.Observation) ([]ReconcileCandidate, error) {
	ranked, err := s.search(ctx, Query{
		AgentID: incoming.AgentID,
		Text:    incoming.Title,
		Stores:  []types.MemoryStore{incoming.Store},
		Types:   []types.ObsType{incoming.ObsType},
		People:  incoming.RelatedPeople,
		Limit:   ReconcileLimit,
	})
	if err != nil {
		return nil, err
	}

	var out []ReconcileCandidate
	for _, r := range ranked {
		if r.Score < ReconcileScoreThreshold {
			break
		}
		full, err := s.loadObservation(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if full == nil {
			continue
		}
		out = append(out, ReconcileCandidate{
			Index:        len(out),
			Score:        r.Score,
			MentionCount: full.MentionCount,
			CreatedAt:    full.CreatedAt,
			Observation:  *full,
		})
		if len(out) >= ReconcileLimit {
			break
		}
	}
	return out, nil
}

// resolveReconciliation never returns an error to the caller: any failure
// mode (no candidates, no reconciler configured, reconciler error,
// out-of-range candidate index) degrades to a safe ADD instead.
func (s *Store) resolveReconciliation(ctx context.Context, incoming types.Observation, candidates []ReconcileCandidate) ReconcileDecision {
	if len(candidates) == 0 {
		return ReconcileDecision{Kind: DecisionAdd}
	}
	if s.reconciler == nil {
		return ReconcileDecision{Kind: DecisionAdd}
	}

	decision, err := s.reconciler.Reconcile(ctx, incoming, candidates)
	if err != nil {
		return ReconcileDecision{Kind: DecisionAdd}
	}

	if !decisionIndexInRange(decision, len(candidates)) {
		return ReconcileDecision{Kind: DecisionAdd}
	}
	return decision
}

func decisionIndexInRange(d ReconcileDecision, n int) bool {
	switch d.Kind {
	case DecisionAdd:
		return true
	case DecisionUpdate, DecisionDelete, DecisionNone:
		return d.CandidateIndex >= 0 && d.CandidateIndex < n
	default:
		return false
	}
}

func (s *Store) applyDecision(ctx context.Context, incoming types.Observation, candidates []ReconcileCandidate, decision ReconcileDecision, now time.Time) (WriteOutcome, error) {
	switch decision.Kind {
	case DecisionAdd:
		id, err := s.insertObservation(ctx, incoming, now)
		if err != nil {
			return "", err
		}
		s.embedAndPersist(ctx, id, incoming)
		return OutcomeAdded, nil

	case DecisionUpdate:
		candidate := candidates[decision.CandidateIndex]
		return s.applyUpdate(ctx, candidate, decision.MergedObservation, now)

	case DecisionDelete:
		candidate := candidates[decision.CandidateIndex]
		return s.applyDelete(ctx, candidate, incoming, now)

	case DecisionNone:
		candidate := candidates[decision.CandidateIndex]
		if err := s.bumpMention(ctx, candidate.Observation.ID, now); err != nil {
			return "", err
		}
		return OutcomeSkipped, nil

	default:
		return OutcomeSkipped, nil
	}
}

func (s *Store) insertObservation(ctx context.Context, obs types.Observation, now time.Time) (string, error) {
	if obs.ID == "" {
		obs.ID = s.newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (
			id, agent_id, session_key, store, obs_type, title, narrative, facts, tags,
			source, related_files, related_people, hash, mention_count, token_count,
			created_at, updated_at, expires_at, min_trust
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?)
	`,
		obs.ID, obs.AgentID, nullableSessionKey(obs.SessionKey), obs.Store, obs.ObsType, obs.Title, obs.Narrative,
		marshalStrings(obs.Facts), marshalStrings(obs.Tags), obs.Source,
		marshalStrings(obs.RelatedFiles), marshalStrings(obs.RelatedPeople), obs.Hash,
		obs.TokenCount, now.UnixMilli(), now.UnixMilli(), nullableTime(obs.ExpiresAt), int(obs.MinTrust),
	)
	if err != nil {
		return "", err
	}

	if err := s.recordHistory(ctx, obs.ID, types.HistoryAdd, "", now); err != nil {
		return "", err
	}
	if err := s.upsertPeople(ctx, obs.AgentID, obs.Store, obs.RelatedPeople, now); err != nil {
		return "", err
	}
	return obs.ID, nil
}

func (s *Store) applyUpdate(ctx context.Context, candidate ReconcileCandidate, merged types.Observation, now time.Time) (WriteOutcome, error) {
	id := candidate.Observation.ID
	merged.Hash = ComputeHash(merged.Title, merged.Facts)
	merged.TokenCount = estimateTokenCount(merged.Title, merged.Narrative, merged.Facts)
	if merged.Store == "" {
		merged.Store = candidate.Observation.Store
	}
	if merged.ObsType == "" {
		merged.ObsType = candidate.Observation.ObsType
	}
	if merged.Title == "" {
		merged.Title = candidate.Observation.Title
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE observations
		SET store = ?, obs_type = ?, title = ?, narrative = ?, facts = ?, tags = ?,
		    related_files = ?, related_people = ?, hash = ?, mention_count = mention_count + 1,
		    token_count = ?, updated_at = ?, min_trust = ?
		WHERE id = ? AND agent_id = ?
	`,
		merged.Store, merged.ObsType, merged.Title, merged.Narrative, marshalStrings(merged.Facts),
		marshalStrings(merged.Tags), marshalStrings(merged.RelatedFiles), marshalStrings(merged.RelatedPeople),
		merged.Hash, merged.TokenCount, now.UnixMilli(), int(types.MinTrustForStore(merged.Store)),
		id, candidate.Observation.AgentID,
	)
	if err != nil {
		return "", err
	}

	if err := s.recordHistory(ctx, id, types.HistoryUpdate, historyDetail(candidate.Observation, merged), now); err != nil {
		return "", err
	}
	if err := s.upsertPeople(ctx, candidate.Observation.AgentID, merged.Store, merged.RelatedPeople, now); err != nil {
		return "", err
	}

	s.embedAndPersist(ctx, id, merged)
	return OutcomeUpdated, nil
}

func (s *Store) applyDelete(ctx context.Context, candidate ReconcileCandidate, replacement types.Observation, now time.Time) (WriteOutcome, error) {
	old := candidate.Observation
	_, err := s.db.ExecContext(ctx, `UPDATE observations SET expires_at = ?, updated_at = ? WHERE id = ? AND agent_id = ?`,
		now.UnixMilli(), now.UnixMilli(), old.ID, old.AgentID)
	if err != nil {
		return "", err
	}

	if err := s.recordHistory(ctx, old.ID, types.HistoryDelete, historyDetail(old, replacement), now); err != nil {
		return "", err
	}

	// Best-effort: a stale embedding outlives its row harmlessly but would
	// otherwise pollute ranking for the superseded content.
	_, _ = s.db.ExecContext(ctx, `DELETE FROM observation_embeddings WHERE observation_id = ?`, old.ID)

	newID, err := s.insertObservation(ctx, replacement, now)
	if err != nil {
		return "", err
	}
	s.embedAndPersist(ctx, newID, replacement)
	return OutcomeDeleted, nil
}

func (s *Store) bumpMention(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE observations SET mention_count = mention_count + 1, updated_at = ? WHERE id = ?`,
		now.UnixMilli(), id)
	return err
}

func (s *Store) recordHistory(ctx context.Context, obsID string, kind types.HistoryEventKind, detail string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observation_history (id, observation_id, kind, detail, created_at) VALUES (?, ?, ?, ?, ?)
	`, s.newID(), obsID, string(kind), detail, now.UnixMilli())
	return err
}

func (s *Store) upsertPeople(ctx context.Context, agentID string, store types.MemoryStore, people []string, now time.Time) error {
	for _, name := range people {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO people (agent_id, name, store, facts, last_mentioned, mention_count)
			VALUES (?, ?, ?, '[]', ?, 1)
			ON CONFLICT(agent_id, name) DO UPDATE SET
				store = excluded.store,
				last_mentioned = excluded.last_mentioned,
				mention_count = people.mention_count + 1
		`, agentID, name, store, now.UnixMilli())
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) embedAndPersist(ctx context.Context, observationID string, obs types.Observation) {
	if s.embedder == nil {
		return
	}
	text := obs.Title
	if obs.Narrative != "" {
		text += " " + obs.Narrative
	}
	if len(obs.Facts) > 0 {
		text += " " + strings.Join(obs.Facts, "; ")
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		return
	}
	_, _ = s.db.ExecContext(ctx, `
		INSERT INTO observation_embeddings (observation_id, vector) VALUES (?, ?)
		ON CONFLICT(observation_id) DO UPDATE SET vector = excluded.vector
	`, observationID, encodeVector(vec))
}

func estimateTokenCount(title, narrative string, facts []string) int {
	text := title
	if narrative != "" {
		text += " " + narrative
	}
	if len(facts) > 0 {
		text += " " + strings.Join(facts, "; ")
	}
	return len(text) / 4 // chars-per-token estimate, consistent with the compaction engine
}

func historyDetail(old, new types.Observation) string {
	return fmt.Sprintf("title=%q->%q facts=%d->%d", old.Title, new.Title, len(old.Facts), len(new.Facts))
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableSessionKey(k *types.SessionKey) any {
	if k == nil {
		return nil
	}
	return string(*k)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
