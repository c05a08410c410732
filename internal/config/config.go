// Package config loads pipemedic configuration using Viper.
//
// Sources, lowest precedence first: built-in defaults, pipemedic.yaml,
// the pipemedic.<environment>.yaml overlay, a .env file, and PIPEMEDIC_*
// environment variables.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/pipemedic/internal/errors"
)

// EnvPrefix prefixes every environment override, e.g. PIPEMEDIC_AI_MODEL.
const EnvPrefix = "PIPEMEDIC"

// MaxAttemptsBound is the hard upper bound on repair attempts per session.
const MaxAttemptsBound = 3

// Config holds the application configuration.
type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string `mapstructure:"log_format" yaml:"log_format"`

	Paths      PathsConfig      `mapstructure:"paths" yaml:"paths"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	AI         AIConfig         `mapstructure:"ai" yaml:"ai"`
	Healing    HealingConfig    `mapstructure:"healing" yaml:"healing"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
	GitHub     GitHubConfig     `mapstructure:"github" yaml:"github"`

	// ConfigFiles lists the files that contributed, base first.
	ConfigFiles []string `mapstructure:"-" yaml:"-"`
}

// PathsConfig holds on-disk locations for persisted state.
type PathsConfig struct {
	StateDir      string `mapstructure:"state_dir" yaml:"state_dir"`
	BackupDir     string `mapstructure:"backup_dir" yaml:"backup_dir"`
	ArtifactDir   string `mapstructure:"artifact_dir" yaml:"artifact_dir"`
	SessionDir    string `mapstructure:"session_dir" yaml:"session_dir"`
	MetricsFile   string `mapstructure:"metrics_file" yaml:"metrics_file"`
	DashboardFile string `mapstructure:"dashboard_file" yaml:"dashboard_file"`
	PromTextfile  string `mapstructure:"prom_textfile" yaml:"prom_textfile"`
}

// PipelineConfig locates the pipeline source and its input.
type PipelineConfig struct {
	Source          string            `mapstructure:"source" yaml:"source"`
	Data            string            `mapstructure:"data" yaml:"data"`
	Runner          string            `mapstructure:"runner" yaml:"runner"`
	Command         []string          `mapstructure:"command" yaml:"command,omitempty"`
	RequiredColumns []string          `mapstructure:"required_columns" yaml:"required_columns"`
	Renames         map[string]string `mapstructure:"renames" yaml:"renames"`
}

// AIConfig configures the generation endpoint.
type AIConfig struct {
	Provider           string        `mapstructure:"provider" yaml:"provider"`
	APIKey             string        `mapstructure:"api_key" yaml:"-"`
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	Model              string        `mapstructure:"model" yaml:"model"`
	MaxTokens          int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	CacheEnabled       bool          `mapstructure:"cache_enabled" yaml:"cache_enabled"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	CacheSize          int           `mapstructure:"cache_size" yaml:"cache_size"`
}

// HealingConfig tunes the repair loop.
type HealingConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	EnableBackup    bool          `mapstructure:"enable_backup" yaml:"enable_backup"`
	BackupRetention time.Duration `mapstructure:"backup_retention" yaml:"backup_retention"`
	SampleRows      int           `mapstructure:"sample_rows" yaml:"sample_rows"`
	MaxPatchKB      int           `mapstructure:"max_patch_kb" yaml:"max_patch_kb"`
}

// MonitoringConfig controls notifications.
type MonitoringConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	WebhookURL      string        `mapstructure:"webhook_url" yaml:"webhook_url,omitempty"`
	SlackWebhookURL string        `mapstructure:"slack_webhook_url" yaml:"slack_webhook_url,omitempty"`
	AlertOnFailure  bool          `mapstructure:"alert_on_failure" yaml:"alert_on_failure"`
	AlertOnSuccess  bool          `mapstructure:"alert_on_success" yaml:"alert_on_success"`
	DedupWindow     time.Duration `mapstructure:"dedup_window" yaml:"dedup_window"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// GitHubConfig gates pull-request creation for healed sources.
type GitHubConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Token        string `mapstructure:"token" yaml:"-"`
	Repo         string `mapstructure:"repo" yaml:"repo,omitempty"`
	BaseBranch   string `mapstructure:"base_branch" yaml:"base_branch,omitempty"`
	SourcePath   string `mapstructure:"source_path" yaml:"source_path,omitempty"`
	AutoCreatePR bool   `mapstructure:"auto_create_pr" yaml:"auto_create_pr"`
}

// Options selects which files Load reads.
type Options struct {
	// Path is an explicit config file; empty searches . and .pipemedic.
	Path string
	// Environment overrides the environment key; it also picks the overlay.
	Environment string
	// EnvFile is loaded into the process environment when present. Default ".env".
	EnvFile string
}

var validEnvironments = map[string]bool{
	"development": true, "staging": true, "production": true, "dev": true, "prod": true,
}

// Load reads configuration from files and environment.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to load "+envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ai.api_key", EnvPrefix+"_AI_API_KEY", "OPENROUTER_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("github.token", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN")

	var files []string
	if opts.Path != "" {
		if _, err := os.Stat(opts.Path); err != nil {
			return nil, errors.New(errors.ErrCodeConfigNotFound, "config file not found: "+opts.Path).
				WithSuggestion("Pass --config with an existing file or omit it to use defaults")
		}
		v.SetConfigFile(opts.Path)
	} else {
		v.SetConfigName("pipemedic")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(".pipemedic")
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is OK, defaults apply
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to read config", err)
		}
	} else {
		files = append(files, v.ConfigFileUsed())
	}

	env := opts.Environment
	if env == "" {
		env = v.GetString("environment")
	}
	if overlay := overlayPath(files, env); overlay != "" {
		v.SetConfigFile(overlay)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to merge "+overlay, err)
		}
		files = append(files, overlay)
	}
	if opts.Environment != "" {
		v.Set("environment", opts.Environment)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to decode config", err)
	}
	cfg.ConfigFiles = files

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overlayPath returns pipemedic.<env>.yaml next to the base file, or in the
// working directory when no base file was read, if it exists.
func overlayPath(files []string, env string) string {
	if env == "" {
		return ""
	}
	dir := "."
	if len(files) > 0 {
		dir = filepath.Dir(files[0])
	}
	candidate := filepath.Join(dir, fmt.Sprintf("pipemedic.%s.yaml", env))
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("paths.state_dir", ".pipemedic")
	v.SetDefault("paths.backup_dir", filepath.Join(".pipemedic", "backups"))
	v.SetDefault("paths.artifact_dir", filepath.Join(".pipemedic", "candidates"))
	v.SetDefault("paths.session_dir", filepath.Join(".pipemedic", "sessions"))
	v.SetDefault("paths.metrics_file", filepath.Join(".pipemedic", "metrics.jsonl"))
	v.SetDefault("paths.dashboard_file", filepath.Join(".pipemedic", "dashboard.html"))
	v.SetDefault("paths.prom_textfile", "")

	v.SetDefault("pipeline.source", "pipeline.yaml")
	v.SetDefault("pipeline.data", filepath.Join("data", "users.csv"))
	v.SetDefault("pipeline.runner", "inprocess")
	v.SetDefault("pipeline.command", []string{})
	v.SetDefault("pipeline.required_columns", []string{"user_id", "full_name", "email", "signup_date"})
	v.SetDefault("pipeline.renames", map[string]string{"user_id": "uid", "full_name": "customer_name"})

	v.SetDefault("ai.provider", "openrouter")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.model", "openai/gpt-4o-mini")
	v.SetDefault("ai.max_tokens", 4000)
	v.SetDefault("ai.timeout", 60*time.Second)
	v.SetDefault("ai.rate_limit_per_minute", 10)
	v.SetDefault("ai.cache_enabled", false)
	v.SetDefault("ai.cache_ttl", 24*time.Hour)
	v.SetDefault("ai.cache_size", 128)

	v.SetDefault("healing.max_attempts", MaxAttemptsBound)
	v.SetDefault("healing.enable_backup", true)
	v.SetDefault("healing.backup_retention", 30*24*time.Hour)
	v.SetDefault("healing.sample_rows", 5)
	v.SetDefault("healing.max_patch_kb", 500)

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.slack_webhook_url", "")
	v.SetDefault("monitoring.alert_on_failure", true)
	v.SetDefault("monitoring.alert_on_success", false)
	v.SetDefault("monitoring.dedup_window", 5*time.Minute)
	v.SetDefault("monitoring.timeout", 10*time.Second)

	v.SetDefault("github.enabled", false)
	v.SetDefault("github.token", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("github.base_branch", "")
	v.SetDefault("github.source_path", "")
	v.SetDefault("github.auto_create_pr", false)
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string

	if !validEnvironments[c.Environment] {
		problems = append(problems, fmt.Sprintf("environment %q must be one of development, staging, production, dev, prod", c.Environment))
	}

	switch c.Pipeline.Runner {
	case "inprocess":
	case "command":
		if len(c.Pipeline.Command) == 0 {
			problems = append(problems, "pipeline.command is required when pipeline.runner is command")
		}
	default:
		problems = append(problems, fmt.Sprintf("pipeline.runner %q must be inprocess or command", c.Pipeline.Runner))
	}
	if c.Pipeline.Source == "" {
		problems = append(problems, "pipeline.source is required")
	}

	switch c.AI.Provider {
	case "openai", "openrouter", "anthropic", "none":
	default:
		problems = append(problems, fmt.Sprintf("ai.provider %q must be openai, openrouter, anthropic or none", c.AI.Provider))
	}
	if c.AI.MaxTokens <= 0 {
		problems = append(problems, "ai.max_tokens must be positive")
	}
	if c.AI.Timeout <= 0 {
		problems = append(problems, "ai.timeout must be positive")
	}
	if c.AI.RateLimitPerMinute < 0 {
		problems = append(problems, "ai.rate_limit_per_minute cannot be negative")
	}
	if c.AI.CacheEnabled && c.AI.CacheSize <= 0 {
		problems = append(problems, "ai.cache_size must be positive when the cache is enabled")
	}

	if c.Healing.MaxAttempts < 1 || c.Healing.MaxAttempts > MaxAttemptsBound {
		problems = append(problems, fmt.Sprintf("healing.max_attempts must be between 1 and %d", MaxAttemptsBound))
	}
	if c.Healing.MaxPatchKB <= 0 {
		problems = append(problems, "healing.max_patch_kb must be positive")
	}
	if c.Healing.SampleRows < 0 {
		problems = append(problems, "healing.sample_rows cannot be negative")
	}

	if c.Monitoring.DedupWindow < 0 {
		problems = append(problems, "monitoring.dedup_window cannot be negative")
	}

	if c.GitHub.Enabled {
		if c.GitHub.Token == "" {
			problems = append(problems, "github.token is required when github is enabled")
		}
		if _, _, ok := c.GitHub.OwnerRepo(); !ok {
			problems = append(problems, fmt.Sprintf("github.repo %q must look like owner/name", c.GitHub.Repo))
		}
	}

	if len(problems) > 0 {
		return errors.NewConfigInvalidError(problems)
	}
	return nil
}

// RequireAI checks the settings needed to call the generation endpoint.
func (c *Config) RequireAI() error {
	if c.AI.Provider != "none" && c.AI.APIKey == "" {
		return errors.NewConfigInvalidError([]string{"ai.api_key is required (set PIPEMEDIC_AI_API_KEY)"})
	}
	return nil
}

// OwnerRepo splits github.repo into owner and name.
func (g GitHubConfig) OwnerRepo() (owner, name string, ok bool) {
	owner, name, found := strings.Cut(g.Repo, "/")
	if !found || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
}

// IsProduction reports whether the environment is production-like.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
