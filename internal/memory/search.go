package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/coop/internal/types"
)

// Query mirrors the recall filters a tool call or reconciliation pass
// can supply. Zero values mean "no filter" except Limit, which defaults.
type Query struct {
	AgentID string
	Text    string
	Stores  []types.MemoryStore
	Types   []types.ObsType
	People  []string
	AfterMS int64
	BeforeMS int64
	Limit   int
	MaxTokens int
	Trust   types.TrustLevel // caller's trust; 0 (Owner) sees everything
}

// ObservationIndex is the compact recall record returned to callers, cheap
// enough to hand a model a list of without blowing the context budget.
type ObservationIndex struct {
	ID           string
	Score        float64
	Title        string
	Store        types.MemoryStore
	ObsType      types.ObsType
	TokenCount   int
	CreatedAt    time.Time
	MentionCount int
}

// Search runs the hybrid FTS + embedding recall and applies trust-based
// store filtering before ranking.
func (s *Store) Search(ctx context.Context, q Query) ([]ObservationIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.search(ctx, q)
}

func (s *Store) search(ctx context.Context, q Query) ([]ObservationIndex, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}

	allowedStores := allowedStoresForTrust(q.Trust)
	if len(q.Stores) > 0 {
		allowedStores = intersectStores(allowedStores, q.Stores)
	}
	if len(allowedStores) == 0 {
		return nil, nil
	}

	var queryEmbedding []float32
	if s.embedder != nil && q.Text != "" {
		vec, err := s.embedder.Embed(ctx, q.Text)
		if err == nil {
			queryEmbedding = vec
		}
	}

	sqlQuery, args := buildSearchSQL(q, allowedStores, s.now().UnixMilli())
	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: search query: %w", err)
	}
	defer rows.Close()

	type scored struct {
		idx       ObservationIndex
		bm25      float64
		embedding []byte
	}
	var candidates []scored
	for rows.Next() {
		var c scored
		var createdAt int64
		var embedding sql.NullString
		if err := rows.Scan(&c.idx.ID, &c.idx.Title, &c.idx.Store, &c.idx.ObsType,
			&c.idx.TokenCount, &createdAt, &c.idx.MentionCount, &c.bm25, &embedding); err != nil {
			return nil, err
		}
		c.idx.CreatedAt = time.UnixMilli(createdAt)
		if embedding.Valid {
			c.embedding = []byte(embedding.String)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ObservationIndex, 0, len(candidates))
	for _, c := range candidates {
		fts := normalizeBM25(c.bm25)
		embScore := 0.0
		if queryEmbedding != nil && c.embedding != nil {
			embScore = cosineSimilarity(queryEmbedding, decodeVector(c.embedding))
		}
		c.idx.Score = rankAlpha*fts + rankBeta*embScore
		out = append(out, c.idx)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func buildSearchSQL(q Query, allowedStores []types.MemoryStore, nowMS int64) (string, []any) {
	var b strings.Builder
	var args []any

	useFTS := q.Text != ""
	if useFTS {
		b.WriteString(`
			SELECT o.id, o.title, o.store, o.obs_type, o.token_count, o.created_at, o.mention_count,
			       bm25(observations_fts) AS rank, e.vector
			FROM observations_fts
			JOIN observations o ON o.rowid = observations_fts.rowid
			LEFT JOIN observation_embeddings e ON e.observation_id = o.id
			WHERE observations_fts MATCH ?
			  AND o.agent_id = ?
			  AND (o.expires_at IS NULL OR o.expires_at > ?)
		`)
		args = append(args, ftsQuery(q.Text), q.AgentID, nowMS)
	} else {
		b.WriteString(`
			SELECT o.id, o.title, o.store, o.obs_type, o.token_count, o.created_at, o.mention_count,
			       0.0 AS rank, e.vector
			FROM observations o
			LEFT JOIN observation_embeddings e ON e.observation_id = o.id
			WHERE o.agent_id = ?
			  AND (o.expires_at IS NULL OR o.expires_at > ?)
		`)
		args = append(args, q.AgentID, nowMS)
	}

	storePlaceholders := make([]string, len(allowedStores))
	for i, st := range allowedStores {
		storePlaceholders[i] = "?"
		args = append(args, string(st))
	}
	fmt.Fprintf(&b, " AND o.store IN (%s)", strings.Join(storePlaceholders, ","))

	if len(q.Types) > 0 {
		ph := make([]string, len(q.Types))
		for i, t := range q.Types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		fmt.Fprintf(&b, " AND o.obs_type IN (%s)", strings.Join(ph, ","))
	}
	if q.AfterMS > 0 {
		b.WriteString(" AND o.created_at >= ?")
		args = append(args, q.AfterMS)
	}
	if q.BeforeMS > 0 {
		b.WriteString(" AND o.created_at <= ?")
		args = append(args, q.BeforeMS)
	}
	for _, person := range q.People {
		b.WriteString(" AND o.related_people LIKE ?")
		args = append(args, "%\""+person+"\"%")
	}

	b.WriteString(" ORDER BY rank LIMIT ?")
	args = append(args, maxCandidates(q.Limit))

	return b.String(), args
}

// maxCandidates over-fetches beyond the caller's limit since the final
// ranking blends in embedding similarity, which SQL's bm25() ordering alone
// doesn't capture.
func maxCandidates(limit int) int {
	if limit*4 > 200 {
		return 200
	}
	return limit * 4
}

func ftsQuery(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " OR ")
}

// normalizeBM25 maps sqlite's bm25() (negative, unbounded, lower-is-better)
// onto a positive 0..1-ish similarity score comparable to cosine similarity.
func normalizeBM25(bm25 float64) float64 {
	if bm25 == 0 {
		return 0
	}
	return 1 / (1 + math.Abs(bm25))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// allowedStoresForTrust returns every store whose MinTrustForStore the
// caller's trust level satisfies.
func allowedStoresForTrust(trust types.TrustLevel) []types.MemoryStore {
	all := []types.MemoryStore{types.StorePrivate, types.StoreShared, types.StoreSocial}
	var out []types.MemoryStore
	for _, st := range all {
		if trust.AtLeast(types.MinTrustForStore(st)) {
			out = append(out, st)
		}
	}
	return out
}

func intersectStores(a, b []types.MemoryStore) []types.MemoryStore {
	set := make(map[types.MemoryStore]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var out []types.MemoryStore
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}

func (s *Store) loadObservation(ctx context.Context, id string) (*types.Observation, error) {
	var o types.Observation
	var sessionKey sql.NullString
	var facts, tags, files, people string
	var createdAt, updatedAt int64
	var expiresAt sql.NullInt64
	var minTrust int

	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, session_key, store, obs_type, title, narrative, facts, tags,
		       source, related_files, related_people, hash, mention_count, token_count,
		       created_at, updated_at, expires_at, min_trust
		FROM observations WHERE id = ?
	`, id).Scan(&o.ID, &o.AgentID, &sessionKey, &o.Store, &o.ObsType, &o.Title, &o.Narrative,
		&facts, &tags, &o.Source, &files, &people, &o.Hash, &o.MentionCount, &o.TokenCount,
		&createdAt, &updatedAt, &expiresAt, &minTrust)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if sessionKey.Valid {
		k := types.SessionKey(sessionKey.String)
		o.SessionKey = &k
	}
	o.Facts = unmarshalStrings(facts)
	o.Tags = unmarshalStrings(tags)
	o.RelatedFiles = unmarshalStrings(files)
	o.RelatedPeople = unmarshalStrings(people)
	o.CreatedAt = time.UnixMilli(createdAt)
	o.UpdatedAt = time.UnixMilli(updatedAt)
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64)
		o.ExpiresAt = &t
	}
	o.MinTrust = types.TrustLevel(minTrust)
	return &o, nil
}
