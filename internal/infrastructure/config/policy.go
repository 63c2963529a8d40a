package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/travofoz/cdp-ninja-sub000/internal/domain"
)

// Policy is the parsed domain policy file.
//
//	maxRiskLevel: LOW
//	domains:
//	  Performance: {risk: HIGH, autoUnload: 5m}
//	  Fetch: {dependencies: [Network, Page]}
type Policy struct {
	MaxRiskLevel *domain.RiskLevel
	Overrides    map[domain.Domain]domain.Override
}

type policyFile struct {
	MaxRiskLevel string                  `yaml:"maxRiskLevel"`
	Domains      map[string]policyDomain `yaml:"domains"`
}

type policyDomain struct {
	Risk           string   `yaml:"risk"`
	RequiresEnable *bool    `yaml:"requiresEnable"`
	Dependencies   []string `yaml:"dependencies"`
	AutoUnload     string   `yaml:"autoUnload"`
}

// LoadPolicy reads and parses a YAML policy file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return Policy{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

func ParsePolicy(data []byte) (Policy, error) {
	var raw policyFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	p := Policy{Overrides: make(map[domain.Domain]domain.Override, len(raw.Domains))}
	if s := strings.TrimSpace(raw.MaxRiskLevel); s != "" {
		r, err := domain.ParseRiskLevel(s)
		if err != nil {
			return Policy{}, fmt.Errorf("maxRiskLevel: %w", err)
		}
		p.MaxRiskLevel = &r
	}
	for name, pd := range raw.Domains {
		d, err := domain.ParseDomain(name)
		if err != nil {
			return Policy{}, err
		}
		var o domain.Override
		if pd.Risk != "" {
			r, err := domain.ParseRiskLevel(pd.Risk)
			if err != nil {
				return Policy{}, fmt.Errorf("%s.risk: %w", d, err)
			}
			o.Risk = &r
		}
		o.RequiresEnable = pd.RequiresEnable
		if pd.Dependencies != nil {
			o.Dependencies = make([]domain.Domain, 0, len(pd.Dependencies))
			for _, dep := range pd.Dependencies {
				dd, err := domain.ParseDomain(dep)
				if err != nil {
					return Policy{}, fmt.Errorf("%s.dependencies: %w", d, err)
				}
				o.Dependencies = append(o.Dependencies, dd)
			}
		}
		if pd.AutoUnload != "" {
			dur, err := time.ParseDuration(pd.AutoUnload)
			if err != nil {
				return Policy{}, fmt.Errorf("%s.autoUnload: %w", d, err)
			}
			o.AutoUnload = &dur
		}
		p.Overrides[d] = o
	}
	return p, nil
}
