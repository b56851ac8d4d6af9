package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownNode is returned when a topology has no node of the requested name.
var ErrUnknownNode = errors.New("unknown node")

// Node is one endpoint of a network topology.
type Node struct {
	RPC            string `yaml:"rpc"`
	WS             string `yaml:"ws"`
	ExecutionLayer string `yaml:"execution_layer"`
	ChainID        int64  `yaml:"chain_id"`
}

// Topology names the nodes of a test network.
type Topology struct {
	// Default is used when no node name is given.
	Default string          `yaml:"default"`
	Nodes   map[string]Node `yaml:"nodes"`
}

// LoadTopology reads a YAML topology file.
func LoadTopology(path string) (*Topology, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open topology: %w", err)
	}
	defer file.Close()

	var t Topology
	if err := yaml.NewDecoder(file).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode topology %s: %w", path, err)
	}
	if len(t.Nodes) == 0 {
		return nil, fmt.Errorf("topology %s defines no nodes", path)
	}
	for name, n := range t.Nodes {
		if n.RPC == "" {
			return nil, fmt.Errorf("topology %s: node %q has no rpc endpoint", path, name)
		}
	}
	return &t, nil
}

// Names returns the node names, sorted.
func (t *Topology) Names() []string {
	names := make([]string, 0, len(t.Nodes))
	for name := range t.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the named node. An empty name selects Default, or the only
// node when the topology has exactly one.
func (t *Topology) Resolve(name string) (Node, error) {
	if name == "" {
		name = t.Default
	}
	if name == "" && len(t.Nodes) == 1 {
		for _, n := range t.Nodes {
			return n, nil
		}
	}
	n, ok := t.Nodes[name]
	if !ok {
		return Node{}, fmt.Errorf("%w %q (have %v)", ErrUnknownNode, name, t.Names())
	}
	return n, nil
}

// ApplyNode points c at node. Empty node fields leave c unchanged.
func (c *Config) ApplyNode(n Node) {
	c.RPCURL = n.RPC
	if n.WS != "" {
		c.WSURL = n.WS
	}
	if n.ExecutionLayer != "" {
		c.ExecutionLayer = n.ExecutionLayer
	}
	if n.ChainID != 0 {
		c.ChainID = n.ChainID
	}
}
