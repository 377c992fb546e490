package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/linking"
	"github.com/platinummonkey/idlink/pkg/retry"
)

// Policy is the part of the configuration that can change while running.
//
// Example policy file:
//
//	retention: archive
//	lease_ttl: 45s
//	session_ttl: 720h
//	retry:
//	  max_attempts: 4
//	  initial_delay: 100ms
type Policy struct {
	Retention  string        `yaml:"retention"`
	LeaseTTL   time.Duration `yaml:"lease_ttl"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	Retry      retry.Config  `yaml:"retry"`
}

// DefaultPolicy returns the built-in policy
func DefaultPolicy() Policy {
	lp := linking.DefaultPolicy()
	return Policy{
		Retention:  string(lp.Retention),
		LeaseTTL:   lp.LeaseTTL,
		SessionTTL: lp.SessionTTL,
		Retry:      retry.DefaultConfig(),
	}
}

func loadPolicy() (Policy, error) {
	p := DefaultPolicy()
	p.Retention = getEnv("IDLINK_RETENTION_MODE", p.Retention)
	p.LeaseTTL = getEnvDuration("IDLINK_LEASE_TTL", p.LeaseTTL)
	p.SessionTTL = getEnvDuration("IDLINK_SESSION_TTL", p.SessionTTL)
	p.Retry.MaxAttempts = getEnvInt("IDLINK_RETRY_MAX_ATTEMPTS", p.Retry.MaxAttempts)
	p.Retry.InitialDelay = getEnvDuration("IDLINK_RETRY_INITIAL_DELAY", p.Retry.InitialDelay)
	p.Retry.MaxDelay = getEnvDuration("IDLINK_RETRY_MAX_DELAY", p.Retry.MaxDelay)
	return p, p.Validate()
}

// LoadPolicyFile reads a YAML policy file. Keys absent from the file keep
// their value from base.
func LoadPolicyFile(path string, base Policy) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data, base)
}

// ParsePolicy decodes YAML over base and validates the result
func ParsePolicy(data []byte, base Policy) (Policy, error) {
	p := base
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return base, fmt.Errorf("failed to parse policy: %w", err)
		}
	}
	if err := p.Validate(); err != nil {
		return base, err
	}
	return p, nil
}

// Validate checks the policy values
func (p Policy) Validate() error {
	if _, err := identity.ParseRetentionMode(p.Retention); err != nil {
		return err
	}
	if p.LeaseTTL < time.Second {
		return fmt.Errorf("lease TTL must be at least 1s, got %s", p.LeaseTTL)
	}
	if p.SessionTTL < time.Minute {
		return fmt.Errorf("session TTL must be at least 1m, got %s", p.SessionTTL)
	}
	if p.Retry.MaxAttempts < 1 || p.Retry.MaxAttempts > 10 {
		return fmt.Errorf("retry max attempts must be between 1 and 10, got %d", p.Retry.MaxAttempts)
	}
	if p.Retry.MaxDelay > 0 && p.Retry.InitialDelay > p.Retry.MaxDelay {
		return fmt.Errorf("retry initial delay %s exceeds max delay %s", p.Retry.InitialDelay, p.Retry.MaxDelay)
	}
	return nil
}

// Linking converts the policy for the linking coordinator
func (p Policy) Linking() linking.Policy {
	mode, err := identity.ParseRetentionMode(p.Retention)
	if err != nil {
		mode = identity.RetainDelete
	}
	return linking.Policy{
		Retention:  mode,
		LeaseTTL:   p.LeaseTTL,
		SessionTTL: p.SessionTTL,
	}
}

// RetryPolicy builds the bounded retry policy
func (p Policy) RetryPolicy() *retry.Policy {
	return retry.NewPolicy(p.Retry)
}
