package main

import (
	"github.com/haasonsaas/coop/internal/config"
	"github.com/haasonsaas/coop/internal/sandbox"
)

// sandboxConfigProvider adapts a *config.Shared into a sandbox.ConfigProvider,
// read fresh on every call so a hot-reloaded [sandbox] section takes effect
// without restarting the bash tool.
func sandboxConfigProvider(shared *config.Shared) sandbox.ConfigProvider {
	return func() sandbox.Config {
		c := shared.Load().Sandbox
		users := make([]sandbox.UserConfig, 0, len(shared.Load().Users))
		for _, u := range shared.Load().Users {
			if u.Sandbox == nil {
				continue
			}
			users = append(users, sandbox.UserConfig{
				Name: u.Name,
				Sandbox: &sandbox.UserSandboxOverride{
					AllowNetwork: u.Sandbox.AllowNetwork,
					Memory:       u.Sandbox.Memory,
					PIDsLimit:    u.Sandbox.PIDsLimit,
					LongLived:    u.Sandbox.LongLived,
				},
			})
		}
		return sandbox.Config{
			AllowNetwork: c.AllowNetwork,
			Memory:       c.Memory,
			PIDsLimit:    c.PIDsLimit,
			LongLived:    c.LongLived,
			Users:        users,
		}
	}
}

func basePolicy(cfg *config.Config) sandbox.Policy {
	network := sandbox.NetworkNone
	if cfg.Sandbox.AllowNetwork {
		network = sandbox.NetworkInternetOnly
	}
	memLimit, err := sandbox.ParseMemorySize(cfg.Sandbox.Memory)
	if err != nil {
		memLimit = 512 << 20
	}
	return sandbox.Policy{
		Workspace:   cfg.Agent.Workspace,
		Network:     network,
		MemoryLimit: memLimit,
		PIDsLimit:   cfg.Sandbox.PIDsLimit,
		LongLived:   cfg.Sandbox.LongLived,
	}
}
