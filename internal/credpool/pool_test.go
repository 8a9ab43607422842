package credpool

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestBestKey_SingleKeyPool(t *testing.T) {
	p := New([]string{"sk-ant-api-test-0"})
	if got := p.BestKey(); got != 0 {
		t.Errorf("BestKey() = %d, want 0", got)
	}
}

func TestBestKey_PrefersSoonestResetAmongComfortable(t *testing.T) {
	p := New([]string{"k0", "k1", "k2"})
	now := time.Now()
	p.now = fixedClock(now)

	h0 := http.Header{}
	h0.Set("anthropic-ratelimit-unified-representative-claim", "five_hour")
	h0.Set("anthropic-ratelimit-unified-5h-utilization", "0.50")
	h0.Set("anthropic-ratelimit-unified-reset", "3000")
	p.UpdateFromHeaders(0, h0)

	h1 := http.Header{}
	h1.Set("anthropic-ratelimit-unified-representative-claim", "five_hour")
	h1.Set("anthropic-ratelimit-unified-5h-utilization", "0.30")
	h1.Set("anthropic-ratelimit-unified-reset", "1000")
	p.UpdateFromHeaders(1, h1)

	h2 := http.Header{}
	h2.Set("anthropic-ratelimit-unified-representative-claim", "five_hour")
	h2.Set("anthropic-ratelimit-unified-5h-utilization", "0.40")
	h2.Set("anthropic-ratelimit-unified-reset", "2000")
	p.UpdateFromHeaders(2, h2)

	if got := p.BestKey(); got != 1 {
		t.Errorf("BestKey() = %d, want 1 (soonest reset among comfortable keys)", got)
	}
}

func TestBestKey_AllHotPicksLowestUtilization(t *testing.T) {
	p := New([]string{"k0", "k1"})

	h0 := http.Header{}
	h0.Set("anthropic-ratelimit-unified-representative-claim", "five_hour")
	h0.Set("anthropic-ratelimit-unified-5h-utilization", "0.92")
	p.UpdateFromHeaders(0, h0)

	h1 := http.Header{}
	h1.Set("anthropic-ratelimit-unified-representative-claim", "five_hour")
	h1.Set("anthropic-ratelimit-unified-5h-utilization", "0.95")
	p.UpdateFromHeaders(1, h1)

	if got := p.BestKey(); got != 0 {
		t.Errorf("BestKey() = %d, want 0", got)
	}
}

func TestBestKey_SkipsCooldownKeys(t *testing.T) {
	p := New([]string{"k0", "k1"})
	p.MarkRateLimited(0, 60*time.Second)

	if got := p.BestKey(); got != 1 {
		t.Errorf("BestKey() = %d, want 1", got)
	}
}

func TestBestKey_AllOnCooldownPicksSoonest(t *testing.T) {
	p := New([]string{"k0", "k1"})
	p.MarkRateLimited(0, 60*time.Second)
	p.MarkRateLimited(1, 10*time.Second)

	if got := p.BestKey(); got != 1 {
		t.Errorf("BestKey() = %d, want 1 (soonest cooldown)", got)
	}
}

func TestBestKey_UnknownUtilizationTreatedAsComfortable(t *testing.T) {
	p := New([]string{"k0", "k1"})
	h1 := http.Header{}
	h1.Set("anthropic-ratelimit-unified-representative-claim", "five_hour")
	h1.Set("anthropic-ratelimit-unified-5h-utilization", "0.95")
	p.UpdateFromHeaders(1, h1)

	if got := p.BestKey(); got != 0 {
		t.Errorf("BestKey() = %d, want 0 (fresh key with unknown utilization)", got)
	}
}

func TestUpdateFromHeaders_MapsRepresentativeClaimToUtilization(t *testing.T) {
	p := New([]string{"k0"})
	h := http.Header{}
	h.Set("anthropic-ratelimit-unified-representative-claim", "seven_day")
	h.Set("anthropic-ratelimit-unified-7d-utilization", "0.45")
	p.UpdateFromHeaders(0, h)

	util, ok := p.Utilization(0)
	if !ok || util != 0.45 {
		t.Errorf("Utilization(0) = (%v, %v), want (0.45, true)", util, ok)
	}
}

func TestUpdateFromHeaders_RetryAfterSetsCooldown(t *testing.T) {
	p := New([]string{"k0"})
	h := http.Header{}
	h.Set("retry-after", "30")
	p.UpdateFromHeaders(0, h)

	if !p.OnCooldown(0) {
		t.Error("expected key to be on cooldown after retry-after header")
	}
}

func TestIsNearLimit_Thresholds(t *testing.T) {
	p := New([]string{"k0"})
	set := func(u string) {
		h := http.Header{}
		h.Set("anthropic-ratelimit-unified-representative-claim", "five_hour")
		h.Set("anthropic-ratelimit-unified-5h-utilization", u)
		p.UpdateFromHeaders(0, h)
	}

	set("0.89")
	if p.IsNearLimit(0) {
		t.Error("0.89 should not be near limit")
	}
	set("0.90")
	if !p.IsNearLimit(0) {
		t.Error("0.90 should be near limit")
	}
}

func TestOAuthDetection(t *testing.T) {
	p := New([]string{"sk-ant-oat01-test", "sk-ant-api01-test"})
	if _, oauth := p.Get(0); !oauth {
		t.Error("expected key 0 to be detected as OAuth")
	}
	if _, oauth := p.Get(1); oauth {
		t.Error("expected key 1 to not be detected as OAuth")
	}
}

func TestResolveKeyRefs_RejectsUnknownPrefix(t *testing.T) {
	_, err := ResolveKeyRefs([]string{"vault:secret"})
	if err == nil {
		t.Fatal("expected error for non-env: prefix")
	}
}

func TestResolveKeyRefs_RejectsBareNames(t *testing.T) {
	_, err := ResolveKeyRefs([]string{"ANTHROPIC_API_KEY"})
	if err == nil {
		t.Fatal("expected error for bare env var name")
	}
}

func TestResolveKeyRefs_ResolvesEnvPrefix(t *testing.T) {
	t.Setenv("COOP_TEST_KEY", "secret-value")
	keys, err := ResolveKeyRefs([]string{"env:COOP_TEST_KEY"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "secret-value" {
		t.Errorf("keys = %v, want [secret-value]", keys)
	}
}

func TestResolveKeyRefs_ReportsMissingEnvVar(t *testing.T) {
	_, err := ResolveKeyRefs([]string{"env:COOP_MISSING_TEST_KEY_99"})
	if err == nil {
		t.Fatal("expected error for missing env var")
	}
}

type staticTokenSource struct {
	tok *oauth2.Token
	err error
}

func (s staticTokenSource) Token() (*oauth2.Token, error) { return s.tok, s.err }

func TestRefreshOAuth_SwapsAccessTokenOnOAuthKey(t *testing.T) {
	p := New([]string{"sk-ant-oat01-test"})
	src := staticTokenSource{tok: &oauth2.Token{AccessToken: "sk-ant-oat01-refreshed"}}

	if err := p.RefreshOAuth(context.Background(), 0, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value, _ := p.Get(0)
	if value != "sk-ant-oat01-refreshed" {
		t.Errorf("Get(0) = %q, want refreshed token", value)
	}
}

func TestRefreshOAuth_RejectsNonOAuthKey(t *testing.T) {
	p := New([]string{"sk-ant-api01-test"})
	src := staticTokenSource{tok: &oauth2.Token{AccessToken: "ignored"}}

	if err := p.RefreshOAuth(context.Background(), 0, src); err == nil {
		t.Fatal("expected error refreshing a non-oauth key")
	}
}

func TestRefreshOAuth_PropagatesSourceError(t *testing.T) {
	p := New([]string{"sk-ant-oat01-test"})
	src := staticTokenSource{err: fmt.Errorf("network down")}

	if err := p.RefreshOAuth(context.Background(), 0, src); err == nil {
		t.Fatal("expected error when token source fails")
	}
}

func TestUpdateFromHeaders_InvokesUtilizationAndCooldownObservers(t *testing.T) {
	var gotUtil float64
	var cooldownFired bool
	p := New([]string{"k0"},
		WithUtilizationObserver(func(idx int, util float64) { gotUtil = util }),
		WithCooldownObserver(func(idx int) { cooldownFired = true }),
	)

	h := http.Header{}
	h.Set("anthropic-ratelimit-unified-representative-claim", "five_hour")
	h.Set("anthropic-ratelimit-unified-5h-utilization", "0.77")
	h.Set("retry-after", "30")
	p.UpdateFromHeaders(0, h)

	if gotUtil != 0.77 {
		t.Errorf("observed utilization = %v, want 0.77", gotUtil)
	}
	if !cooldownFired {
		t.Error("expected cooldown observer to fire from retry-after header")
	}
}
