package domain

import "time"

// LifecycleState is the enable/disable phase of one domain.
type LifecycleState string

const (
	StateDisabled  LifecycleState = "disabled"
	StateEnabling  LifecycleState = "enabling"
	StateEnabled   LifecycleState = "enabled"
	StateDisabling LifecycleState = "disabling"
)

// DomainStatus is a point-in-time copy of one domain's bookkeeping.
type DomainStatus struct {
	Domain      Domain         `json:"domain"`
	Risk        RiskLevel      `json:"risk"`
	State       LifecycleState `json:"state"`
	Enabled     bool           `json:"enabled"`
	LastUsed    *time.Time     `json:"lastUsed"`
	EnableCount int            `json:"enableCount"`
	LastError   *string        `json:"lastError"`
	EnabledBy   []string       `json:"enabledBy"`
}

// Status is the snapshot returned to callers of the domain manager.
type Status struct {
	MaxRiskLevel RiskLevel      `json:"maxRiskLevel"`
	Domains      []DomainStatus `json:"domains"`
}
