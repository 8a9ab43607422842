package main

import "os"

// defaultConfigPath returns $COOP_CONFIG if set, else "coop.toml" in the
// current directory.
func defaultConfigPath() string {
	if p := os.Getenv("COOP_CONFIG"); p != "" {
		return p
	}
	return "coop.toml"
}
