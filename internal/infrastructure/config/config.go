package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/travofoz/cdp-ninja-sub000/internal/domain"
)

type Config struct {
	Addr            string
	LogLevel        string
	CORSAllowOrigin string
	// CDPURL is the target's webSocketDebuggerUrl.
	CDPURL      string
	InsecureTLS bool

	PoolSize       int
	AcquireTimeout time.Duration
	DialTimeout    time.Duration

	// MaxRiskLevel is kept as text so flags can override it before parsing.
	// Empty means "policy file, else MEDIUM".
	MaxRiskLevel      string
	DomainPolicyFile  string
	CleanupInterval   time.Duration
	DomainIdleTimeout time.Duration

	EventBufferSize      int
	SharedEventQueueSize int
	EventInboxSize       int

	ExposeSensitiveFields bool
}

func FromEnv() Config {
	cfg := Config{
		Addr:            getEnv("ADDR", ":9092"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CORSAllowOrigin: getEnv("CORS_ALLOW_ORIGIN", "*"),
		CDPURL:          getEnv("CDP_URL", ""),
	}
	cfg.InsecureTLS = envTrue("INSECURE_TLS")
	cfg.PoolSize = getEnvInt("POOL_SIZE", 1)
	cfg.AcquireTimeout = getEnvMillis("ACQUIRE_TIMEOUT_MS", 5000)
	cfg.DialTimeout = getEnvMillis("DIAL_TIMEOUT_MS", 10000)

	cfg.MaxRiskLevel = strings.TrimSpace(os.Getenv("MAX_RISK_LEVEL"))
	cfg.DomainPolicyFile = getEnv("DOMAIN_POLICY_FILE", "")
	cfg.CleanupInterval = getEnvMillis("CLEANUP_INTERVAL_MS", 60000)
	cfg.DomainIdleTimeout = time.Duration(getEnvInt("DOMAIN_IDLE_MINUTES", 30)) * time.Minute

	cfg.EventBufferSize = getEnvInt("EVENT_BUFFER_SIZE", 100)
	cfg.SharedEventQueueSize = getEnvInt("SHARED_EVENT_QUEUE_SIZE", 1000)
	cfg.EventInboxSize = getEnvInt("EVENT_INBOX_SIZE", 4096)

	// default: expose sensitive fields unless explicitly disabled
	if os.Getenv("EXPOSE_SENSITIVE_FIELDS") == "0" || os.Getenv("EXPOSE_SENSITIVE_FIELDS") == "false" {
		cfg.ExposeSensitiveFields = false
	} else {
		cfg.ExposeSensitiveFields = true
	}
	return cfg
}

// Validate reports settings the bridge cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.CDPURL) == "" {
		errs = append(errs, errors.New("CDP_URL is required"))
	}
	if c.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("POOL_SIZE must be positive, got %d", c.PoolSize))
	}
	if c.MaxRiskLevel != "" {
		if _, err := domain.ParseRiskLevel(c.MaxRiskLevel); err != nil {
			errs = append(errs, fmt.Errorf("MAX_RISK_LEVEL: %w", err))
		}
	}
	return errors.Join(errs...)
}

// DomainSetup builds the domain table and risk limit: built-in defaults,
// then the policy file, then an explicit MaxRiskLevel.
func (c Config) DomainSetup() (domain.Table, domain.RiskLevel, error) {
	table := domain.DefaultTable()
	max := domain.RiskMedium
	if c.DomainPolicyFile != "" {
		p, err := LoadPolicy(c.DomainPolicyFile)
		if err != nil {
			return nil, 0, err
		}
		if table, err = table.Apply(p.Overrides); err != nil {
			return nil, 0, fmt.Errorf("policy %s: %w", c.DomainPolicyFile, err)
		}
		if p.MaxRiskLevel != nil {
			max = *p.MaxRiskLevel
		}
	}
	if c.MaxRiskLevel != "" {
		r, err := domain.ParseRiskLevel(c.MaxRiskLevel)
		if err != nil {
			return nil, 0, err
		}
		max = r
	}
	if err := table.Validate(); err != nil {
		return nil, 0, err
	}
	return table, max, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvMillis(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Millisecond
}

func envTrue(key string) bool {
	v := os.Getenv(key)
	return v == "1" || v == "true"
}
