// Package credpool implements the adaptive multi-key credential selector
// described in Coop's design: a small pool of provider API keys, each
// carrying independently-locked rate-limit state updated from response
// headers, with a bucket-partition selection algorithm that prefers fresh
// capacity over hot or cooling-down keys.
package credpool

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// NearLimitThreshold is the utilization at or above which a key is
// considered "hot" and deprioritized in favor of comfortable keys.
const NearLimitThreshold = 0.90

// rateLimitInfo is the per-key state, mutated only by header updates.
type rateLimitInfo struct {
	allowed             bool
	utilization         *float64
	representativeClaim string
	resetEpoch          *int64
	cooldownUntil       *time.Time
}

type keyEntry struct {
	value  string
	oauth  bool
	mu     sync.RWMutex
	limits rateLimitInfo
}

// Pool holds N credentials and picks the best one per request.
type Pool struct {
	keys          []*keyEntry
	now           func() time.Time
	onUtilization func(keyIndex int, utilization float64)
	onCooldown    func(keyIndex int)
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithClock overrides the pool's notion of "now"; used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithUtilizationObserver registers a callback fired every time a key's
// utilization is updated from response headers. Used to feed
// metrics.Metrics.SetCredentialUtilization without this package depending
// on the metrics package.
func WithUtilizationObserver(f func(keyIndex int, utilization float64)) Option {
	return func(p *Pool) { p.onUtilization = f }
}

// WithCooldownObserver registers a callback fired every time a key enters
// cooldown, either from headers or an explicit MarkRateLimited call.
func WithCooldownObserver(f func(keyIndex int)) Option {
	return func(p *Pool) { p.onCooldown = f }
}

// New builds a Pool from resolved key material (already-dereferenced secret
// values, not "env:VAR" references — see ResolveKeyRefs).
func New(keys []string, opts ...Option) *Pool {
	p := &Pool{now: time.Now}
	for _, k := range keys {
		p.keys = append(p.keys, &keyEntry{
			value: k,
			oauth: strings.Contains(k, "sk-ant-oat"),
			limits: rateLimitInfo{
				allowed: true,
			},
		})
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Len returns the number of keys in the pool.
func (p *Pool) Len() int { return len(p.keys) }

// Get returns the raw key value and whether it looks like an OAuth token.
func (p *Pool) Get(index int) (value string, isOAuth bool) {
	e := p.keys[index]
	return e.value, e.oauth
}

// BestKey picks the best key index for the next request. Always returns a
// valid index (0 ≤ idx < Len()); never returns an index out of range even
// for an empty partition result.
func (p *Pool) BestKey() int {
	if len(p.keys) == 1 {
		return 0
	}

	now := p.now()

	type comfy struct {
		idx   int
		reset int64
	}
	type hot struct {
		idx   int
		util  float64
		reset int64
	}
	type cooling struct {
		idx   int
		until time.Time
	}

	var comfortable []comfy
	var hotKeys []hot
	var cooldown []cooling

	for i, e := range p.keys {
		e.mu.RLock()
		cooldownUntil := e.limits.cooldownUntil
		utilization := e.limits.utilization
		reset := int64(1<<63 - 1)
		if e.limits.resetEpoch != nil {
			reset = *e.limits.resetEpoch
		}
		e.mu.RUnlock()

		if cooldownUntil != nil && cooldownUntil.After(now) {
			cooldown = append(cooldown, cooling{i, *cooldownUntil})
			continue
		}

		if utilization != nil && *utilization >= NearLimitThreshold {
			hotKeys = append(hotKeys, hot{i, *utilization, reset})
		} else {
			comfortable = append(comfortable, comfy{i, reset})
		}
	}

	if len(comfortable) > 0 {
		sort.SliceStable(comfortable, func(i, j int) bool { return comfortable[i].reset < comfortable[j].reset })
		return comfortable[0].idx
	}

	if len(hotKeys) > 0 {
		sort.Slice(hotKeys, func(i, j int) bool {
			if hotKeys[i].util != hotKeys[j].util {
				return hotKeys[i].util < hotKeys[j].util
			}
			return hotKeys[i].reset < hotKeys[j].reset
		})
		return hotKeys[0].idx
	}

	if len(cooldown) > 0 {
		sort.Slice(cooldown, func(i, j int) bool { return cooldown[i].until.Before(cooldown[j].until) })
		return cooldown[0].idx
	}

	return 0
}

// UpdateFromHeaders absorbs Anthropic rate-limit headers into the key's
// state (§4.2).
func (p *Pool) UpdateFromHeaders(keyIndex int, h http.Header) {
	e := p.keys[keyIndex]
	e.mu.Lock()
	defer e.mu.Unlock()

	if status := h.Get("anthropic-ratelimit-unified-status"); status != "" {
		e.limits.allowed = status == "allowed"
	}

	if reset := h.Get("anthropic-ratelimit-unified-reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			e.limits.resetEpoch = &epoch
		}
	}

	if claim := h.Get("anthropic-ratelimit-unified-representative-claim"); claim != "" {
		e.limits.representativeClaim = claim
	}

	if e.limits.representativeClaim != "" {
		if util, ok := readUtilizationForClaim(h, e.limits.representativeClaim); ok {
			e.limits.utilization = &util
			if p.onUtilization != nil {
				p.onUtilization(keyIndex, util)
			}
		}
	}

	if retryAfter := h.Get("retry-after"); retryAfter != "" {
		if secs, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
			until := p.now().Add(time.Duration(secs) * time.Second)
			e.limits.cooldownUntil = &until
			if p.onCooldown != nil {
				p.onCooldown(keyIndex)
			}
		}
	}
}

// MarkRateLimited forces a cooldown when a 429 is observed without headers
// to parse (e.g. a transport-level failure before the response was read).
func (p *Pool) MarkRateLimited(keyIndex int, retryAfter time.Duration) {
	e := p.keys[keyIndex]
	e.mu.Lock()
	defer e.mu.Unlock()
	until := p.now().Add(retryAfter)
	e.limits.cooldownUntil = &until
	e.limits.allowed = false
	if p.onCooldown != nil {
		p.onCooldown(keyIndex)
	}
}

func (p *Pool) IsNearLimit(keyIndex int) bool {
	e := p.keys[keyIndex]
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limits.utilization != nil && *e.limits.utilization >= NearLimitThreshold
}

func (p *Pool) OnCooldown(keyIndex int) bool {
	e := p.keys[keyIndex]
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limits.cooldownUntil != nil && e.limits.cooldownUntil.After(p.now())
}

func (p *Pool) Utilization(keyIndex int) (float64, bool) {
	e := p.keys[keyIndex]
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.limits.utilization == nil {
		return 0, false
	}
	return *e.limits.utilization, true
}

// readUtilizationForClaim maps a representative claim name to its
// utilization header, with five_hour/seven_day shortened to 5h/7d and a
// fallback to the maximum utilization across all windows if the specific
// header is absent.
func readUtilizationForClaim(h http.Header, claim string) (float64, bool) {
	var headerName string
	switch claim {
	case "five_hour":
		headerName = "anthropic-ratelimit-unified-5h-utilization"
	case "seven_day":
		headerName = "anthropic-ratelimit-unified-7d-utilization"
	default:
		mapped := strings.ReplaceAll(claim, "seven_day", "7d")
		mapped = strings.ReplaceAll(mapped, "five_hour", "5h")
		headerName = "anthropic-ratelimit-unified-" + mapped + "-utilization"
	}

	if v := h.Get(headerName); v != "" {
		if u, err := strconv.ParseFloat(v, 64); err == nil {
			return u, true
		}
	}

	var maxUtil float64
	found := false
	for name, values := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "anthropic-ratelimit-unified-") || !strings.HasSuffix(lower, "-utilization") {
			continue
		}
		for _, v := range values {
			if u, err := strconv.ParseFloat(v, 64); err == nil {
				if !found || u > maxUtil {
					maxUtil = u
					found = true
				}
			}
		}
	}
	return maxUtil, found
}

// RefreshOAuth swaps an OAuth-flagged key's value for a freshly minted
// access token. It is the token-refresh capability interface implied by
// §4.2's "sk-ant-oat" detection path: Coop does not drive the
// authorization-code exchange itself (out of scope), but once some other
// component has obtained an oauth2.TokenSource, the pool knows how to pull
// a refreshed token out of it and keep using the same key slot.
func (p *Pool) RefreshOAuth(ctx context.Context, keyIndex int, source oauth2.TokenSource) error {
	e := p.keys[keyIndex]
	e.mu.RLock()
	isOAuth := e.oauth
	e.mu.RUnlock()
	if !isOAuth {
		return fmt.Errorf("credpool: key %d is not an oauth credential", keyIndex)
	}

	tok, err := source.Token()
	if err != nil {
		return fmt.Errorf("credpool: refresh oauth token for key %d: %w", keyIndex, err)
	}

	e.mu.Lock()
	e.value = tok.AccessToken
	e.mu.Unlock()
	return nil
}

// ResolveKeyRefs parses "env:VAR_NAME" key references from config and
// resolves them to live secret values. Any other form is rejected at load
// time (§4.2, §7).
func ResolveKeyRefs(refs []string) ([]string, error) {
	keys := make([]string, 0, len(refs))
	for _, entry := range refs {
		varName, ok := strings.CutPrefix(entry, "env:")
		if !ok {
			return nil, fmt.Errorf("api_keys entry %q must use 'env:' prefix (e.g. env:ANTHROPIC_API_KEY)", entry)
		}
		value, ok := os.LookupEnv(varName)
		if !ok {
			return nil, fmt.Errorf("environment variable %q not set (from api_keys entry %q)", varName, entry)
		}
		keys = append(keys, value)
	}
	return keys, nil
}
