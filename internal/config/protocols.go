package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// ProtocolFileEntry is one protocol entry in the PROTOCOLS_FILE array
type ProtocolFileEntry struct {
	ID            string `json:"id" yaml:"id"`
	PoolAccount   string `json:"pool_account" yaml:"pool_account"`
	MinDeposit    uint64 `json:"min_deposit,omitempty" yaml:"min_deposit,omitempty"`
	MinWithdrawal uint64 `json:"min_withdrawal,omitempty" yaml:"min_withdrawal,omitempty"`
}

// LoadProtocolsFile reads a .yaml/.yml or JSON protocols file
func LoadProtocolsFile(path string) (map[string]ProtocolConfig, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadProtocolsFromYAML(path)
	default:
		return LoadProtocolsFromJSON(path)
	}
}

// LoadProtocolsFromJSON reads and validates protocol entries. Pool accounts
// must be valid base58 public keys and ids may not repeat.
func LoadProtocolsFromJSON(path string) (map[string]ProtocolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read protocols file: %w", err)
	}

	var entries []ProtocolFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return buildProtocols(entries)
}

func LoadProtocolsFromYAML(path string) (map[string]ProtocolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read protocols file: %w", err)
	}

	var entries []ProtocolFileEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return buildProtocols(entries)
}

func buildProtocols(entries []ProtocolFileEntry) (map[string]ProtocolConfig, error) {
	out := make(map[string]ProtocolConfig, len(entries))
	for i, e := range entries {
		pc, err := parseProtocolEntry(e)
		if err != nil {
			return nil, fmt.Errorf("protocol %d (%s): %w", i, e.ID, err)
		}
		id := strings.TrimSpace(e.ID)
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("protocol %d: duplicate id %q", i, id)
		}
		out[id] = pc
	}
	return out, nil
}

func parseProtocolEntry(e ProtocolFileEntry) (ProtocolConfig, error) {
	if strings.TrimSpace(e.ID) == "" {
		return ProtocolConfig{}, fmt.Errorf("id is required")
	}
	if _, err := solana.PublicKeyFromBase58(e.PoolAccount); err != nil {
		return ProtocolConfig{}, fmt.Errorf("invalid pool_account: %w", err)
	}
	return ProtocolConfig{
		PoolAccount:   e.PoolAccount,
		MinDeposit:    e.MinDeposit,
		MinWithdrawal: e.MinWithdrawal,
	}, nil
}
