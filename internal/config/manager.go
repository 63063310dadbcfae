package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// TenantOverrides are the per-tenant governance knobs. Zero values fall back
// to the global config.
type TenantOverrides struct {
	MinTrustLevel    int               `yaml:"min_trust_level"`
	MaxInFlight      int               `yaml:"max_in_flight"`
	TrustGates       map[string]int    `yaml:"trust_gates"`
	NamespaceRouting map[string]string `yaml:"namespace_routing"`
	RedactPaths      []string          `yaml:"redact_paths"`
	EncryptAtRest    *bool             `yaml:"encrypt_at_rest"`
}

// TenantsConfig is the on-disk shape of the tenant overrides file.
type TenantsConfig struct {
	Tenants map[string]TenantOverrides `yaml:"tenants"`
}

// TenantSettings is the resolved view the pipeline consumes for one tenant.
type TenantSettings struct {
	TenantID         string
	MinTrustLevel    int
	MaxInFlight      int
	TrustGates       map[string]int
	NamespaceRouting map[string]string
	RedactPaths      []string
	EncryptAtRest    bool
	DefaultNamespace string
}

// RequiredTrustLevel resolves the gate for an intent type.
func (s *TenantSettings) RequiredTrustLevel(intentType string) int {
	if lvl, ok := s.TrustGates[intentType]; ok {
		return lvl
	}
	return s.MinTrustLevel
}

// Namespace resolves queue routing for an intent type.
func (s *TenantSettings) Namespace(intentType string) string {
	if ns, ok := s.NamespaceRouting[intentType]; ok {
		return ns
	}
	return s.DefaultNamespace
}

// Manager resolves effective per-tenant settings: global config merged with
// tenant overrides, cached after first resolution. The overrides file is
// read once at boot.
type Manager struct {
	global    *Config
	overrides map[string]TenantOverrides

	mu       sync.RWMutex
	resolved map[string]*TenantSettings
}

// NewManager builds a manager from an already-loaded global config and an
// optional tenants file. A missing tenants file means no overrides.
func NewManager(global *Config, tenantsPath string) (*Manager, error) {
	m := &Manager{
		global:    global,
		overrides: make(map[string]TenantOverrides),
		resolved:  make(map[string]*TenantSettings),
	}
	if tenantsPath == "" {
		return m, nil
	}

	f, err := os.Open(tenantsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, err
	}
	defer f.Close()

	var tc TenantsConfig
	if err := yaml.NewDecoder(f).Decode(&tc); err != nil {
		return nil, err
	}
	if tc.Tenants != nil {
		m.overrides = tc.Tenants
	}
	return m, nil
}

// Resolve returns the effective settings for a tenant.
func (m *Manager) Resolve(tenantID string) *TenantSettings {
	m.mu.RLock()
	if s, ok := m.resolved[tenantID]; ok {
		m.mu.RUnlock()
		return s
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.resolved[tenantID]; ok {
		return s
	}

	s := &TenantSettings{
		TenantID:         tenantID,
		MinTrustLevel:    m.global.Intent.DefaultMinTrustLevel,
		MaxInFlight:      m.global.Intent.DefaultMaxInFlight,
		TrustGates:       m.global.Intent.TrustGates,
		NamespaceRouting: m.global.Intent.NamespaceRouting,
		RedactPaths:      m.global.Intent.RedactPaths,
		EncryptAtRest:    m.global.Intent.EncryptAtRest,
		DefaultNamespace: m.global.Intent.DefaultNamespace,
	}

	if o, ok := m.overrides[tenantID]; ok {
		if o.MinTrustLevel > 0 {
			s.MinTrustLevel = o.MinTrustLevel
		}
		if o.MaxInFlight > 0 {
			s.MaxInFlight = o.MaxInFlight
		}
		if len(o.TrustGates) > 0 {
			s.TrustGates = mergeIntMap(s.TrustGates, o.TrustGates)
		}
		if len(o.NamespaceRouting) > 0 {
			s.NamespaceRouting = mergeStrMap(s.NamespaceRouting, o.NamespaceRouting)
		}
		if len(o.RedactPaths) > 0 {
			s.RedactPaths = append(append([]string{}, s.RedactPaths...), o.RedactPaths...)
		}
		if o.EncryptAtRest != nil {
			s.EncryptAtRest = *o.EncryptAtRest
		}
	}

	m.resolved[tenantID] = s
	return s
}

func mergeIntMap(base, over map[string]int) map[string]int {
	out := make(map[string]int, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func mergeStrMap(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
