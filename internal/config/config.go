// Package config holds the process-wide, boot-time-only state: this node's
// id and the ordered peer list. It is built once in main and passed down —
// never read from the environment again at an arbitrary call site (spec
// §9's explicit instruction).
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the immutable configuration for one node.
type Config struct {
	NodeID  int      `yaml:"node_id"`
	Addr    string   `yaml:"addr"`
	Peers   []string `yaml:"peers"` // ordered, index == NodeID, self entry included
	Wire    string   `yaml:"wire"`  // "json" (default) or "proto"
	DataDir string   `yaml:"data_dir"`
}

// ConfigurationError marks a fatal boot-time configuration problem —
// spec §7's ConfigurationError taxonomy entry.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Msg }

// Validate checks the invariants spec §6 requires of Peers: NodeID must
// index into the list, and the list must include a self entry (never
// dialed, but must be present so indices line up with NodeID).
func (c *Config) Validate() error {
	n := len(c.Peers)
	if n == 0 {
		return &ConfigurationError{Msg: "peers list must not be empty"}
	}
	if c.NodeID < 0 || c.NodeID >= n {
		return &ConfigurationError{Msg: fmt.Sprintf("node id %d out of range [0,%d)", c.NodeID, n)}
	}
	if c.Addr == "" {
		return &ConfigurationError{Msg: "addr must not be empty"}
	}
	return nil
}

// N returns the total node count (== len(Peers)).
func (c *Config) N() int {
	return len(c.Peers)
}

// ParsePeers parses "id0=host:port,id1=host:port,..." into an ordered slice
// indexed by id, exactly mirroring the teacher's cmd/server peers flag
// format, generalized from named ids to the numeric NodeIDs this spec uses.
func ParsePeers(flagVal string) ([]string, error) {
	if flagVal == "" {
		return nil, &ConfigurationError{Msg: "peers flag must not be empty"}
	}

	entries := strings.Split(flagVal, ",")
	addrs := make([]string, len(entries))
	seen := make([]bool, len(entries))

	for _, entry := range entries {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("invalid peer entry %q: expected id=host:port", entry)}
		}
		var id int
		if _, err := fmt.Sscanf(parts[0], "%d", &id); err != nil {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("invalid peer id %q: %v", parts[0], err)}
		}
		if id < 0 || id >= len(entries) {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("peer id %d out of range [0,%d)", id, len(entries))}
		}
		if seen[id] {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("duplicate peer id %d", id)}
		}
		seen[id] = true
		addrs[id] = parts[1]
	}
	for i, ok := range seen {
		if !ok {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("missing peer id %d", i)}
		}
	}
	return addrs, nil
}

// LoadYAML reads an alternative config file form: a YAML document holding
// the same fields as Config. Used when -config is passed instead of
// -id/-addr/-peers.
func LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("parse config %s: %v", path, err)}
	}
	return &c, nil
}
