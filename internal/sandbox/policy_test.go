package sandbox

import (
	"testing"

	"github.com/haasonsaas/coop/internal/types"
)

func TestParseMemorySize(t *testing.T) {
	cases := map[string]int64{
		"512m": 512 << 20,
		"1g":   1 << 30,
		"2048k": 2048 << 10,
		"100":  100,
	}
	for in, want := range cases {
		got, err := ParseMemorySize(in)
		if err != nil {
			t.Fatalf("ParseMemorySize(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMemorySize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseMemorySize_RejectsGarbage(t *testing.T) {
	if _, err := ParseMemorySize("not-a-size"); err == nil {
		t.Error("expected error for unparseable memory size")
	}
}

func TestResolvePolicy_NetworkModeTable(t *testing.T) {
	base := Policy{MemoryLimit: 256 << 20}

	cases := []struct {
		name         string
		allowNetwork bool
		trust        types.TrustLevel
		want         NetworkMode
	}{
		{"disallowed, owner", false, types.TrustOwner, NetworkNone},
		{"disallowed, inner", false, types.TrustInner, NetworkNone},
		{"allowed, full trust gets host", true, types.TrustFull, NetworkHost},
		{"allowed, owner trust gets host", true, types.TrustOwner, NetworkHost},
		{"allowed, inner trust gets internet-only", true, types.TrustInner, NetworkInternetOnly},
		{"allowed, familiar trust gets internet-only", true, types.TrustFamiliar, NetworkInternetOnly},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Config{AllowNetwork: c.allowNetwork, Memory: "256m"}
			got := resolvePolicy(base, cfg, "/ws", "", c.trust)
			if got.Network != c.want {
				t.Errorf("network = %s, want %s", got.Network, c.want)
			}
		})
	}
}

func TestResolvePolicy_UserOverrideWins(t *testing.T) {
	base := Policy{MemoryLimit: 256 << 20}
	allowTrue := true
	cfg := Config{
		AllowNetwork: false,
		Memory:       "256m",
		Users: []UserConfig{
			{Name: "alice", Sandbox: &UserSandboxOverride{AllowNetwork: &allowTrue}},
		},
	}

	got := resolvePolicy(base, cfg, "/ws", "alice", types.TrustInner)
	if got.Network != NetworkInternetOnly {
		t.Errorf("expected alice's override to enable network, got %s", got.Network)
	}

	other := resolvePolicy(base, cfg, "/ws", "bob", types.TrustInner)
	if other.Network != NetworkNone {
		t.Errorf("expected bob (no override) to use global default, got %s", other.Network)
	}
}

func TestResolvePolicy_LiveConfigWinsOverBasePolicy(t *testing.T) {
	base := Policy{MemoryLimit: 100 << 20}
	cfg := Config{Memory: "900m"}

	got := resolvePolicy(base, cfg, "/ws", "", types.TrustFull)
	if got.MemoryLimit != 900<<20 {
		t.Errorf("expected live config memory to win, got %d", got.MemoryLimit)
	}
}
