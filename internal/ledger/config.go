package ledger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single anchor chain endpoint.
type ChainDefinition struct {
	Type            string   `yaml:"type"`
	RPCURL          string   `yaml:"rpc_url"`
	AnchorContract  string   `yaml:"anchor_contract"`
	PrivateKeyEnv   string   `yaml:"private_key_env"`
	ChainID         int64    `yaml:"chain_id"`
	ConfirmInterval Duration `yaml:"confirm_interval"`
	ConfirmAttempts int      `yaml:"confirm_attempts"`
	Description     string   `yaml:"description"`
}

// Duration decodes Go duration strings like "4s" from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PrivateKey resolves the signing key from the configured environment
// variable. An empty result means the client runs read-only.
func (d ChainDefinition) PrivateKey() string {
	if d.PrivateKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(d.PrivateKeyEnv))
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("read chain config: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("parse chain config: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}
