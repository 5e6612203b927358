// Package config loads and validates botbuilder configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables (which the CLI has already populated from .env).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment constants
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config is the full application configuration.
type Config struct {
	Environment string `yaml:"environment"`
	// ProjectsDir is the root under which projects/<id>/<bot> directories live.
	ProjectsDir string `yaml:"projects_dir"`

	Oracle   OracleConfig   `yaml:"oracle"`
	Build    BuildConfig    `yaml:"build"`
	Docker   DockerConfig   `yaml:"docker"`
	Telegram TelegramConfig `yaml:"telegram"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Backup   BackupConfig   `yaml:"backup"`
	Server   ServerConfig   `yaml:"server"`
}

// OracleConfig configures the text-generation model.
type OracleConfig struct {
	APIKey      string        `yaml:"-"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	// RequestsPerMinute caps oracle calls across all sessions in the process.
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// BuildConfig holds state machine tuning.
type BuildConfig struct {
	MaxQuestions    int           `yaml:"max_questions"`
	SettleInterval  time.Duration `yaml:"settle_interval"`
	LogTail         int           `yaml:"log_tail"`
	MaxStageRetries int           `yaml:"max_stage_retries"`
	MaxDebugCycles  int           `yaml:"max_debug_cycles"`
	AskFeedback     bool          `yaml:"ask_feedback"`
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	SecretsFile     string        `yaml:"secrets_file"`
	RequiredFiles   []string      `yaml:"required_files"`
}

// DockerConfig configures the container runtime.
type DockerConfig struct {
	Host string `yaml:"host"`
	// Ports maps container port ("8080/tcp") to host port ("8080").
	Ports map[string]string `yaml:"ports"`
}

// TelegramConfig configures the username lookup.
type TelegramConfig struct {
	APIBaseURL string        `yaml:"api_base_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RedisConfig enables durable session snapshots when URL is set.
type RedisConfig struct {
	URL       string        `yaml:"url"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// DatabaseConfig configures the build ledger.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// BackupConfig configures project export after a finished build.
type BackupConfig struct {
	// Backend is "", "local" or "s3". Empty disables export.
	Backend    string `yaml:"backend"`
	LocalPath  string `yaml:"local_path"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Prefix   string `yaml:"s3_prefix"`

	// Static S3 keys; the default AWS credential chain is used when empty.
	S3AccessKeyID     string `yaml:"-"`
	S3SecretAccessKey string `yaml:"-"`
}

// ServerConfig configures the optional status API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: EnvDevelopment,
		ProjectsDir: "projects",
		Oracle: OracleConfig{
			Model:             "gemini-2.5-flash",
			Temperature:       0.7,
			Timeout:           2 * time.Minute,
			RequestsPerMinute: 30,
			Burst:             1,
		},
		Build: BuildConfig{
			MaxQuestions:    10,
			SettleInterval:  10 * time.Second,
			LogTail:         100,
			MaxStageRetries: 1,
			MaxDebugCycles:  5,
			AskFeedback:     true,
			SessionTimeout:  2 * time.Hour,
			SecretsFile:     ".env",
			RequiredFiles:   []string{"main.py", "requirements.txt", "README.md", "Dockerfile"},
		},
		Telegram: TelegramConfig{
			APIBaseURL: "https://api.telegram.org",
			Timeout:    15 * time.Second,
		},
		Redis: RedisConfig{
			KeyPrefix: "botbuilder:session:",
			TTL:       7 * 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "botbuilder.db",
		},
		Backup: BackupConfig{
			LocalPath: "exports",
			S3Prefix:  "projects/",
		},
		Server: ServerConfig{
			Addr: ":8090",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var invalid []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				invalid = append(invalid, key)
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				invalid = append(invalid, key)
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				invalid = append(invalid, key)
				return
			}
			*dst = b
		}
	}

	str("ENVIRONMENT", &c.Environment)
	str("PROJECTS_DIR", &c.ProjectsDir)

	str("GEMINI_API_KEY", &c.Oracle.APIKey)
	str("GEMINI_MODEL", &c.Oracle.Model)
	duration("ORACLE_TIMEOUT", &c.Oracle.Timeout)
	integer("ORACLE_RPM", &c.Oracle.RequestsPerMinute)

	integer("BOT_MAX_QUESTIONS", &c.Build.MaxQuestions)
	duration("BOT_SETTLE_INTERVAL", &c.Build.SettleInterval)
	integer("BOT_LOG_TAIL", &c.Build.LogTail)
	integer("BOT_MAX_STAGE_RETRIES", &c.Build.MaxStageRetries)
	integer("BOT_MAX_DEBUG_CYCLES", &c.Build.MaxDebugCycles)
	boolean("BOT_ASK_FEEDBACK", &c.Build.AskFeedback)
	duration("BOT_SESSION_TIMEOUT", &c.Build.SessionTimeout)

	str("DOCKER_HOST", &c.Docker.Host)
	if v, ok := lookup("BOT_PORTS"); ok && strings.TrimSpace(v) != "" {
		ports, err := ParsePorts(v)
		if err != nil {
			invalid = append(invalid, "BOT_PORTS")
		} else {
			c.Docker.Ports = ports
		}
	}

	str("TELEGRAM_API_URL", &c.Telegram.APIBaseURL)

	str("REDIS_URL", &c.Redis.URL)
	duration("REDIS_SESSION_TTL", &c.Redis.TTL)

	if v, ok := lookup("DATABASE_URL"); ok && strings.TrimSpace(v) != "" {
		c.Database.Driver = "postgres"
		c.Database.DSN = strings.TrimSpace(v)
	}
	if c.Database.Driver == "sqlite" {
		str("LEDGER_PATH", &c.Database.DSN)
	}

	str("BACKUP_BACKEND", &c.Backup.Backend)
	str("BACKUP_LOCAL_PATH", &c.Backup.LocalPath)
	str("BACKUP_S3_BUCKET", &c.Backup.S3Bucket)
	str("AWS_REGION", &c.Backup.S3Region)
	str("BACKUP_S3_ENDPOINT", &c.Backup.S3Endpoint)
	str("BACKUP_S3_ACCESS_KEY_ID", &c.Backup.S3AccessKeyID)
	str("BACKUP_S3_SECRET_ACCESS_KEY", &c.Backup.S3SecretAccessKey)

	str("STATUS_ADDR", &c.Server.Addr)

	if len(invalid) > 0 {
		return &ValidationError{Invalid: invalid}
	}
	return nil
}

// ParsePorts parses "8080:8080,9000:9001/tcp" (host:container) into the
// container-port to host-port map used by the runtime.
func ParsePorts(spec string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, ctr, ok := strings.Cut(part, ":")
		if !ok || host == "" || ctr == "" {
			return nil, fmt.Errorf("invalid port mapping %q", part)
		}
		if _, err := strconv.Atoi(host); err != nil {
			return nil, fmt.Errorf("invalid host port %q", host)
		}
		if !strings.Contains(ctr, "/") {
			ctr += "/tcp"
		}
		out[ctr] = host
	}
	return out, nil
}

// IsProduction reports whether the production logger should be used.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}
