package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/docsense.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// ServerConfig describes runtime options for the docsense daemon.
type ServerConfig struct {
	Environment string
	ListenPort  int
	AdminEmail  string
	// Backward-compatible base log file; used if the daemon file is unset
	LogFile       string
	LogFileDaemon string
	LogLevel      string

	// Ledger database: sqlite file path or postgres DSN. Driver is chosen
	// by ledger_driver (sqlite|postgres).
	LedgerDriver string
	LedgerPath   string
	LedgerDSN    string
	// Pool settings applied to the postgres ledger connection
	LedgerMaxOpenConns    int
	LedgerMaxIdleConns    int
	LedgerConnMaxLifetime int // minutes
	LedgerConnMaxIdleTime int // minutes

	// Identity database: same driver split as the ledger
	IdentityDriver string
	IdentityPath   string
	IdentityDSN    string

	// Credit policy
	DefaultGrant int // credits granted to a newly ensured account

	// Charge retry policy for transient storage faults
	ChargeMaxRetries   int
	ChargeRetryBackoff time.Duration

	// Optional YAML tool catalog overriding the built-in defaults
	ToolCatalogFile string

	// In-process metrics collection toggle
	MetricsEnabled bool

	// External analyzer endpoints; empty means the built-in loopback engine
	AnalyzerBaseURL string
	AnalyzerAPIKey  string
}

// LoadServerConfig reads the current environment and loads the appropriate config file.
func LoadServerConfig(root string) (ServerConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return ServerConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return ServerConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := ServerConfig{
		Environment: s.Environment,
		ListenPort:  parseOptionalInt(firstNonEmpty(os.Getenv("DOCSENSE_PORT"), merged["port"]), 8090),
		AdminEmail:  firstNonEmpty(os.Getenv("DOCSENSE_ADMIN_EMAIL"), merged["admin_email"], "admin@local"),
		LogFile:     firstNonEmpty(os.Getenv("DOCSENSE_LOG_FILE"), merged["log_file"]),
		LogLevel:    firstNonEmpty(merged["log_level"], "info"),

		LedgerDriver:          strings.ToLower(firstNonEmpty(os.Getenv("DOCSENSE_LEDGER_DRIVER"), merged["ledger_driver"], "sqlite")),
		LedgerPath:            firstNonEmpty(os.Getenv("DOCSENSE_LEDGER_PATH"), merged["ledger_path"], DefaultLedgerPath()),
		LedgerDSN:             firstNonEmpty(os.Getenv("DOCSENSE_LEDGER_DSN"), merged["ledger_dsn"]),
		LedgerMaxOpenConns:    parseOptionalInt(merged["ledger_max_open_conns"], 20),
		LedgerMaxIdleConns:    parseOptionalInt(merged["ledger_max_idle_conns"], 5),
		LedgerConnMaxLifetime: parseOptionalInt(merged["ledger_conn_max_lifetime_minutes"], 60),
		LedgerConnMaxIdleTime: parseOptionalInt(merged["ledger_conn_max_idle_minutes"], 10),

		IdentityDriver: strings.ToLower(firstNonEmpty(os.Getenv("DOCSENSE_IDENTITY_DRIVER"), merged["identity_driver"], "sqlite")),
		IdentityPath:   firstNonEmpty(os.Getenv("DOCSENSE_IDENTITY_PATH"), merged["identity_path"], DefaultIdentityPath()),
		IdentityDSN:    firstNonEmpty(os.Getenv("DOCSENSE_IDENTITY_DSN"), merged["identity_dsn"]),

		DefaultGrant: parseOptionalInt(firstNonEmpty(os.Getenv("DOCSENSE_DEFAULT_GRANT"), merged["default_grant"]), 200),

		ChargeMaxRetries: parseOptionalInt(firstNonEmpty(os.Getenv("DOCSENSE_CHARGE_MAX_RETRIES"), merged["charge_max_retries"]), 3),

		ToolCatalogFile: firstNonEmpty(os.Getenv("DOCSENSE_TOOL_CATALOG_FILE"), merged["tool_catalog_file"]),

		MetricsEnabled: parseOptionalBool(firstNonEmpty(os.Getenv("DOCSENSE_METRICS_ENABLED"), merged["metrics_enabled"]), true),

		AnalyzerBaseURL: firstNonEmpty(os.Getenv("DOCSENSE_ANALYZER_BASE_URL"), merged["analyzer_base_url"]),
		AnalyzerAPIKey:  firstNonEmpty(os.Getenv("DOCSENSE_ANALYZER_API_KEY"), merged["analyzer_api_key"]),
	}
	cfg.LogFileDaemon = firstNonEmpty(os.Getenv("DOCSENSE_LOG_FILE_DAEMON"), os.Getenv("DOCSENSE_LOG_FILE"), merged["log_file_daemon"], merged["log_file"])

	cfg.ChargeRetryBackoff = 50 * time.Millisecond
	if v := firstNonEmpty(os.Getenv("DOCSENSE_CHARGE_RETRY_BACKOFF"), merged["charge_retry_backoff"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("invalid charge_retry_backoff %q: %w", v, err)
		}
		cfg.ChargeRetryBackoff = dur
	}

	switch cfg.LedgerDriver {
	case "sqlite", "postgres":
	default:
		return ServerConfig{}, fmt.Errorf("invalid ledger_driver %q (want sqlite or postgres)", cfg.LedgerDriver)
	}
	switch cfg.IdentityDriver {
	case "sqlite", "postgres":
	default:
		return ServerConfig{}, fmt.Errorf("invalid identity_driver %q (want sqlite or postgres)", cfg.IdentityDriver)
	}
	if cfg.DefaultGrant < 0 {
		return ServerConfig{}, fmt.Errorf("default_grant must not be negative, got %d", cfg.DefaultGrant)
	}
	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultLedgerPath returns the fallback ledger location under the user's home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.db"
	}
	return filepath.Join(home, ".docsense", "ledger.db")
}

// DefaultIdentityPath returns the fallback identity database path.
func DefaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "identity.db"
	}
	return filepath.Join(home, ".docsense", "identity.db")
}
