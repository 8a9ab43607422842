package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

const dayMS = 86_400_000

// MaintenanceConfig bounds a single maintenance run's compress/archive/cleanup
// stages. delete_archive_after_days must be >= archive_after_days or archived
// rows would be deleted before they ever had a chance to live in the archive.
type MaintenanceConfig struct {
	ArchiveAfterDays         int
	DeleteArchiveAfterDays   int
	CompressAfterDays        int
	CompressionMinClusterSize int
	MaxRowsPerRun            int
}

// MaintenanceReport summarizes what a single Maintain call did.
type MaintenanceReport struct {
	CompressedRows      int
	SummaryRows         int
	ArchivedRows        int
	ArchiveDeletedRows  int
}

// Maintain runs the three maintenance stages strictly in order — compress,
// then archive, then cleanup — each against an independent row budget, so
// that compression gets a chance to shrink a cluster before the surviving
// rows age into archival eligibility.
func (s *Store) Maintain(ctx context.Context, cfg MaintenanceConfig, agentID string) (MaintenanceReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.DeleteArchiveAfterDays < cfg.ArchiveAfterDays {
		return MaintenanceReport{}, fmt.Errorf("memory: delete_archive_after_days (%d) must be >= archive_after_days (%d)",
			cfg.DeleteArchiveAfterDays, cfg.ArchiveAfterDays)
	}

	now := s.now().UnixMilli()

	compressed, summaries, err := s.compressStale(ctx, cfg, agentID, now)
	if err != nil {
		return MaintenanceReport{}, fmt.Errorf("memory: compress stage: %w", err)
	}

	archived, err := s.archiveAged(ctx, cfg, agentID, now)
	if err != nil {
		return MaintenanceReport{}, fmt.Errorf("memory: archive stage: %w", err)
	}

	deleted, err := s.cleanupArchive(ctx, cfg, agentID, now)
	if err != nil {
		return MaintenanceReport{}, fmt.Errorf("memory: cleanup stage: %w", err)
	}

	return MaintenanceReport{
		CompressedRows:     compressed,
		SummaryRows:        summaries,
		ArchivedRows:       archived,
		ArchiveDeletedRows: deleted,
	}, nil
}

type compressionCandidate struct {
	id           string
	sessionKey   sql.NullString
	store        string
	obsType      string
	title        string
	facts        []string
	tags         []string
	relatedFiles []string
	relatedPeople []string
	mentionCount int
	minTrust     int
}

func (s *Store) compressStale(ctx context.Context, cfg MaintenanceConfig, agentID string, now int64) (int, int, error) {
	staleCutoff := now - int64(cfg.CompressAfterDays)*dayMS
	minCluster := cfg.CompressionMinClusterSize
	if minCluster < 1 {
		minCluster = 1
	}
	fetchLimit := cfg.MaxRowsPerRun * minCluster

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_key, store, obs_type, title, facts, tags, related_files, related_people,
		       mention_count, min_trust
		FROM observations
		WHERE agent_id = ? AND created_at <= ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY store ASC, obs_type ASC, lower(title) ASC, created_at ASC
		LIMIT ?
	`, agentID, staleCutoff, now, fetchLimit)
	if err != nil {
		return 0, 0, err
	}

	var candidates []compressionCandidate
	for rows.Next() {
		var c compressionCandidate
		var facts, tags, files, people string
		if err := rows.Scan(&c.id, &c.sessionKey, &c.store, &c.obsType, &c.title, &facts, &tags, &files, &people,
			&c.mentionCount, &c.minTrust); err != nil {
			rows.Close()
			return 0, 0, err
		}
		c.facts = unmarshalStrings(facts)
		c.tags = unmarshalStrings(tags)
		c.relatedFiles = unmarshalStrings(files)
		c.relatedPeople = unmarshalStrings(people)
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}
	if len(candidates) == 0 {
		return 0, 0, nil
	}

	clusters := map[string][]compressionCandidate{}
	var order []string
	for _, c := range candidates {
		key := c.store + "\x1f" + c.obsType + "\x1f" + normalizeTitle(c.title)
		if _, ok := clusters[key]; !ok {
			order = append(order, key)
		}
		clusters[key] = append(clusters[key], c)
	}

	compressed, summaries := 0, 0
	for _, key := range order {
		cluster := clusters[key]
		if len(cluster) < minCluster {
			continue
		}
		if compressed+len(cluster) > cfg.MaxRowsPerRun {
			continue
		}

		summaryTitle := fmt.Sprintf("%s (compressed %d)", cluster[0].title, len(cluster))
		summaryNarrative := fmt.Sprintf("Deterministic summary from %d observations in the %q / %q cluster.",
			len(cluster), cluster[0].store, cluster[0].obsType)

		var allFacts, allTags, allFiles, allPeople []string
		var totalMentions int
		for _, row := range cluster {
			allFacts = append(allFacts, row.facts...)
			allTags = append(allTags, row.tags...)
			allFiles = append(allFiles, row.relatedFiles...)
			allPeople = append(allPeople, row.relatedPeople...)
			totalMentions += row.mentionCount
		}
		summaryFacts := unionSorted(allFacts)
		summaryTags := unionSorted(append(allTags, "compressed"))
		summaryFiles := unionSorted(allFiles)
		summaryPeople := unionSorted(allPeople)
		if totalMentions < 1 {
			totalMentions = 1
		}

		tokenCount := estimateTokenCount(summaryTitle, summaryNarrative, summaryFacts)
		hash := ComputeHash(summaryTitle, summaryFacts)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return compressed, summaries, err
		}

		summaryID := s.newID()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO observations (
				id, agent_id, session_key, store, obs_type, title, narrative, facts, tags,
				source, related_files, related_people, hash, mention_count, token_count,
				created_at, updated_at, expires_at, min_trust
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'maintenance', ?, ?, ?, ?, ?, ?, ?, NULL, ?)
		`, summaryID, agentID, cluster[0].sessionKey, cluster[0].store, cluster[0].obsType,
			summaryTitle, summaryNarrative, marshalStrings(summaryFacts), marshalStrings(summaryTags),
			marshalStrings(summaryFiles), marshalStrings(summaryPeople), hash, totalMentions, tokenCount,
			now, now, cluster[0].minTrust)
		if err != nil {
			tx.Rollback()
			return compressed, summaries, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO observation_history (id, observation_id, kind, detail, created_at) VALUES (?, ?, 'add', ?, ?)
		`, s.newID(), summaryID, fmt.Sprintf("compressed summary of %d rows", len(cluster)), now)
		if err != nil {
			tx.Rollback()
			return compressed, summaries, err
		}

		for _, row := range cluster {
			if _, err := tx.ExecContext(ctx, `UPDATE observations SET expires_at = ?, updated_at = ? WHERE id = ? AND agent_id = ?`,
				now, now, row.id, agentID); err != nil {
				tx.Rollback()
				return compressed, summaries, err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO observation_history (id, observation_id, kind, detail, created_at) VALUES (?, ?, 'compress', ?, ?)
			`, s.newID(), row.id, fmt.Sprintf("merged into %s", summaryID), now); err != nil {
				tx.Rollback()
				return compressed, summaries, err
			}
		}

		if err := tx.Commit(); err != nil {
			return compressed, summaries, err
		}

		compressed += len(cluster)
		summaries++
	}

	return compressed, summaries, nil
}

type archiveCandidate struct {
	id, sessionKey, store, obsType, title, narrative                     string
	facts, tags, relatedFiles, relatedPeople, hash, minTrust              string
	mentionCount, tokenCount                                              int
	createdAt, updatedAt                                                  int64
	expiresAt                                                             sql.NullInt64
}

func (s *Store) archiveAged(ctx context.Context, cfg MaintenanceConfig, agentID string, now int64) (int, error) {
	cutoff := now - int64(cfg.ArchiveAfterDays)*dayMS

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(session_key,''), store, obs_type, title, COALESCE(narrative,''), facts, tags,
		       COALESCE(source,''), related_files, related_people, hash, mention_count, token_count,
		       created_at, updated_at, expires_at, min_trust
		FROM observations
		WHERE agent_id = ? AND (created_at <= ? OR (expires_at IS NOT NULL AND expires_at <= ?))
		ORDER BY COALESCE(expires_at, created_at) ASC
		LIMIT ?
	`, agentID, cutoff, cutoff, cfg.MaxRowsPerRun)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var candidates []archiveCandidate
	for rows.Next() {
		var c archiveCandidate
		var source string
		if err := rows.Scan(&c.id, &c.sessionKey, &c.store, &c.obsType, &c.title, &c.narrative, &c.facts, &c.tags,
			&source, &c.relatedFiles, &c.relatedPeople, &c.hash, &c.mentionCount, &c.tokenCount,
			&c.createdAt, &c.updatedAt, &c.expiresAt, &c.minTrust); err != nil {
			return 0, err
		}
		_ = source // archive schema does not retain source provenance
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, row := range candidates {
		reason := "age"
		if row.expiresAt.Valid && row.expiresAt.Int64 <= cutoff {
			reason = "expired"
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO observation_archive (
				id, agent_id, store, obs_type, title, narrative, facts, tags,
				related_files, related_people, created_at, archived_at, reason
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, row.id, agentID, row.store, row.obsType, row.title, row.narrative, row.facts, row.tags,
			row.relatedFiles, row.relatedPeople, row.createdAt, now, reason)
		if err != nil {
			tx.Rollback()
			return archived, err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM observations WHERE id = ? AND agent_id = ?`, row.id, agentID); err != nil {
			tx.Rollback()
			return archived, err
		}

		archived++
	}

	if err := tx.Commit(); err != nil {
		return archived, err
	}
	return archived, nil
}

func (s *Store) cleanupArchive(ctx context.Context, cfg MaintenanceConfig, agentID string, now int64) (int, error) {
	cutoff := now - int64(cfg.DeleteArchiveAfterDays)*dayMS

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM observation_archive WHERE agent_id = ? AND archived_at <= ? ORDER BY archived_at ASC LIMIT ?
	`, agentID, cutoff, cfg.MaxRowsPerRun)
	if err != nil {
		return 0, err
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `DELETE FROM observation_archive WHERE id = ? AND agent_id = ?`, id, agentID)
		if err != nil {
			return deleted, err
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	return deleted, nil
}

func unionSorted(items []string) []string {
	set := map[string]bool{}
	for _, v := range items {
		v = strings.TrimSpace(v)
		if v != "" {
			set[v] = true
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// SummarizeSession derives a deterministic rollup of a session's observations
// in creation order: first title is the request, last is the outcome, "decision"
// and "task" obs types feed the decisions/open-items lists.
func (s *Store) SummarizeSession(ctx context.Context, agentID, sessionKey string, now time.Time) (sessionSummaryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT title, obs_type FROM observations WHERE agent_id = ? AND session_key = ? ORDER BY created_at ASC
	`, agentID, sessionKey)
	if err != nil {
		return sessionSummaryResult{}, err
	}
	defer rows.Close()

	var titles, decisions, openItems []string
	for rows.Next() {
		var title, obsType string
		if err := rows.Scan(&title, &obsType); err != nil {
			return sessionSummaryResult{}, err
		}
		switch obsType {
		case "decision":
			decisions = append(decisions, title)
		case "task":
			openItems = append(openItems, title)
		}
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return sessionSummaryResult{}, err
	}

	result := sessionSummaryResult{
		SessionKey:       sessionKey,
		Decisions:        decisions,
		OpenItems:        openItems,
		ObservationCount: len(titles),
	}
	if len(titles) > 0 {
		result.Request = titles[0]
		result.Outcome = titles[len(titles)-1]
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_summaries (session_key, request, outcome, decisions, open_items, observation_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			request = excluded.request, outcome = excluded.outcome, decisions = excluded.decisions,
			open_items = excluded.open_items, observation_count = excluded.observation_count, updated_at = excluded.updated_at
	`, sessionKey, result.Request, result.Outcome, marshalStrings(decisions), marshalStrings(openItems),
		result.ObservationCount, now.UnixMilli())
	if err != nil {
		return sessionSummaryResult{}, err
	}
	return result, nil
}

type sessionSummaryResult struct {
	SessionKey       string
	Request          string
	Outcome          string
	Decisions        []string
	OpenItems        []string
	ObservationCount int
}
