// Package sandbox routes the bash tool through a resource-limited, network-
// gated subprocess. Every other tool passes straight through to the wrapped
// executor; only trust levels of Full or Inner may run bash at all, and
// Owner bypasses the sandbox entirely.
package sandbox

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/haasonsaas/coop/internal/types"
)

// NetworkMode controls what network access a sandboxed command gets.
type NetworkMode string

const (
	NetworkNone         NetworkMode = "none"
	NetworkHost         NetworkMode = "host"
	NetworkInternetOnly NetworkMode = "internet_only"
)

// Policy is the fully-resolved set of sandbox limits for one execution.
type Policy struct {
	Workspace    string
	Network      NetworkMode
	MemoryLimit  int64 // bytes
	PIDsLimit    int
	LongLived    bool
}

// Config is the live, hot-reloadable sandbox configuration a ConfigProvider
// hands back on every resolve — read fresh per call so config changes take
// effect without restarting the agent.
type Config struct {
	AllowNetwork bool
	Memory       string // e.g. "512m", parsed lazily
	PIDsLimit    int
	LongLived    bool
	Users        []UserConfig
}

// UserConfig carries a per-user sandbox override keyed by display name.
type UserConfig struct {
	Name    string
	Sandbox *UserSandboxOverride
}

// UserSandboxOverride lets specific users loosen or tighten the global
// sandbox defaults without touching the base policy.
type UserSandboxOverride struct {
	AllowNetwork *bool
	Memory       *string
	PIDsLimit    *int
	LongLived    *bool
}

// ConfigProvider returns the current live sandbox configuration. Implemented
// by the config package's hot-reload snapshot.
type ConfigProvider func() Config

// resolvePolicy derives the effective Policy for one call: start from the
// live global config, apply a per-user override if the caller is named and
// has one, then derive the network mode from allow_network × trust.
func resolvePolicy(base Policy, cfg Config, workspace, userName string, trust types.TrustLevel) Policy {
	allowNetwork := cfg.AllowNetwork
	memoryLimit := base.MemoryLimit
	if parsed, err := ParseMemorySize(cfg.Memory); err == nil {
		memoryLimit = parsed
	}
	pidsLimit := cfg.PIDsLimit
	longLived := cfg.LongLived

	if userName != "" {
		for _, u := range cfg.Users {
			if u.Name != userName || u.Sandbox == nil {
				continue
			}
			ov := u.Sandbox
			if ov.AllowNetwork != nil {
				allowNetwork = *ov.AllowNetwork
			}
			if ov.Memory != nil {
				if parsed, err := ParseMemorySize(*ov.Memory); err == nil {
					memoryLimit = parsed
				}
			}
			if ov.PIDsLimit != nil {
				pidsLimit = *ov.PIDsLimit
			}
			if ov.LongLived != nil {
				longLived = *ov.LongLived
			}
			break
		}
	}

	var network NetworkMode
	switch {
	case !allowNetwork:
		network = NetworkNone
	case trust.AtLeast(types.TrustFull):
		network = NetworkHost
	default:
		network = NetworkInternetOnly
	}

	return Policy{
		Workspace:   workspace,
		Network:     network,
		MemoryLimit: memoryLimit,
		PIDsLimit:   pidsLimit,
		LongLived:   longLived,
	}
}

// ParseMemorySize parses human-readable memory sizes like "512m", "1g",
// "2048k", or a bare byte count, matching the config schema's shorthand.
func ParseMemorySize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("sandbox: empty memory size")
	}

	multiplier := int64(1)
	numPart := s
	switch {
	case strings.HasSuffix(s, "g"):
		multiplier = 1 << 30
		numPart = strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		multiplier = 1 << 20
		numPart = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "k"):
		multiplier = 1 << 10
		numPart = strings.TrimSuffix(s, "k")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(numPart), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sandbox: invalid memory size %q: %w", s, err)
	}
	return n * multiplier, nil
}
