// Package config loads the engine configuration from a YAML file and
// FIRSTCLAIM_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/firstclaim/claim-engine/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. FIRSTCLAIM_DB_PATH or
// FIRSTCLAIM_AGENT_API_KEY.
const EnvPrefix = "FIRSTCLAIM"

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// AgentConfig selects the agent provider and bounds its turns.
type AgentConfig struct {
	// Provider is "process" (a child process speaking stream-json) or "openai".
	Provider string   `mapstructure:"provider" yaml:"provider"`
	Command  string   `mapstructure:"command" yaml:"command,omitempty"`
	Args     []string `mapstructure:"args" yaml:"args,omitempty"`
	// Env holds KEY=VALUE pairs. Viper lowercases map keys.
	Env      []string `mapstructure:"env" yaml:"env,omitempty"`

	Model              string  `mapstructure:"model" yaml:"model,omitempty"`
	APIKey             string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL            string  `mapstructure:"base_url" yaml:"base_url,omitempty"`
	InputPricePerMTok  float64 `mapstructure:"input_price_per_mtok" yaml:"input_price_per_mtok,omitempty"`
	OutputPricePerMTok float64 `mapstructure:"output_price_per_mtok" yaml:"output_price_per_mtok,omitempty"`
	ConversationTTL    string  `mapstructure:"conversation_ttl" yaml:"conversation_ttl,omitempty"`

	AnalysisMaxSteps     int    `mapstructure:"analysis_max_steps" yaml:"analysis_max_steps"`
	ChatMaxSteps         int    `mapstructure:"chat_max_steps" yaml:"chat_max_steps"`
	AnalysisSystemPrompt string `mapstructure:"analysis_system_prompt" yaml:"analysis_system_prompt,omitempty"`
	ChatSystemPrompt     string `mapstructure:"chat_system_prompt" yaml:"chat_system_prompt,omitempty"`
}

// RefDataConfig tunes the ICD-10 reference lookups.
type RefDataConfig struct {
	SearchLimit int    `mapstructure:"search_limit" yaml:"search_limit"`
	CacheTTL    string `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// TokenConfig binds one bearer token to a caller id.
type TokenConfig struct {
	Token  string `mapstructure:"token" yaml:"token"`
	Caller string `mapstructure:"caller" yaml:"caller"`
}

// AuthConfig lists the accepted bearer tokens.
type AuthConfig struct {
	Tokens []TokenConfig `mapstructure:"tokens" yaml:"tokens,omitempty"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath             string        `mapstructure:"db_path" yaml:"db_path"`
	ListenAddr         string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	SessionBudgetUSD   float64       `mapstructure:"session_budget_usd" yaml:"session_budget_usd"`
	Log                LogConfig     `mapstructure:"log" yaml:"log"`
	Agent              AgentConfig   `mapstructure:"agent" yaml:"agent"`
	RefData            RefDataConfig `mapstructure:"refdata" yaml:"refdata"`
	Auth               AuthConfig    `mapstructure:"auth" yaml:"auth"`
}

// Default returns the configuration used when no file or override sets a key.
func Default() *Config {
	cfg := &Config{DBPath: "firstclaim.db"}
	cfg.applyDefaults()
	return cfg
}

// Load reads the config file at path (optional when empty), layers
// environment overrides on top, applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindDefaults registers every scalar key so AutomaticEnv can resolve it
// during Unmarshal even when no file mentions the key.
func bindDefaults(v *viper.Viper) {
	d := &Config{}
	d.applyDefaults()
	v.SetDefault("db_path", "firstclaim.db")
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("rate_limit_per_minute", d.RateLimitPerMinute)
	v.SetDefault("session_budget_usd", 0.0)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", false)
	v.SetDefault("agent.provider", d.Agent.Provider)
	v.SetDefault("agent.command", "")
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.base_url", "")
	v.SetDefault("agent.input_price_per_mtok", 0.0)
	v.SetDefault("agent.output_price_per_mtok", 0.0)
	v.SetDefault("agent.conversation_ttl", d.Agent.ConversationTTL)
	v.SetDefault("agent.analysis_max_steps", d.Agent.AnalysisMaxSteps)
	v.SetDefault("agent.chat_max_steps", d.Agent.ChatMaxSteps)
	v.SetDefault("agent.analysis_system_prompt", "")
	v.SetDefault("agent.chat_system_prompt", "")
	v.SetDefault("refdata.search_limit", d.RefData.SearchLimit)
	v.SetDefault("refdata.cache_ttl", d.RefData.CacheTTL)
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9800"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Agent.Provider == "" {
		c.Agent.Provider = "process"
	}
	if c.Agent.ConversationTTL == "" {
		c.Agent.ConversationTTL = "1h"
	}
	if c.Agent.AnalysisMaxSteps == 0 {
		c.Agent.AnalysisMaxSteps = 100
	}
	if c.Agent.ChatMaxSteps == 0 {
		c.Agent.ChatMaxSteps = 10
	}
	if c.RefData.SearchLimit == 0 {
		c.RefData.SearchLimit = 10
	}
	if c.RefData.CacheTTL == "" {
		c.RefData.CacheTTL = "10m"
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.RateLimitPerMinute < 0 {
		problems = append(problems, "rate_limit_per_minute must not be negative")
	}
	if c.SessionBudgetUSD < 0 {
		problems = append(problems, "session_budget_usd must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Sprintf("log.level %q is not a valid level", c.Log.Level))
	}

	switch strings.ToLower(c.Agent.Provider) {
	case "process":
		if c.Agent.Command == "" {
			problems = append(problems, "agent.command is required for the process provider")
		}
	case "openai":
		if c.Agent.APIKey == "" {
			problems = append(problems, "agent.api_key is required for the openai provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("agent.provider %q is not supported (process, openai)", c.Agent.Provider))
	}
	if c.Agent.AnalysisMaxSteps < 0 || c.Agent.ChatMaxSteps < 0 {
		problems = append(problems, "agent step limits must be positive")
	}
	if _, err := time.ParseDuration(c.Agent.ConversationTTL); err != nil {
		problems = append(problems, "agent.conversation_ttl must be a duration")
	}

	for _, kv := range c.Agent.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			problems = append(problems, fmt.Sprintf("agent.env entry %q must be KEY=VALUE", kv))
		}
	}

	if c.RefData.SearchLimit < 0 {
		problems = append(problems, "refdata.search_limit must be positive")
	}
	if _, err := time.ParseDuration(c.RefData.CacheTTL); err != nil {
		problems = append(problems, "refdata.cache_ttl must be a duration")
	}

	for i, tok := range c.Auth.Tokens {
		if tok.Token == "" || tok.Caller == "" {
			problems = append(problems, fmt.Sprintf("auth.tokens[%d] needs both token and caller", i))
		}
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}

// CacheTTL returns the parsed reference cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.RefData.CacheTTL)
	return d
}

// ConversationTTL returns the parsed resume-handle lifetime.
func (c *Config) ConversationTTL() time.Duration {
	d, _ := time.ParseDuration(c.Agent.ConversationTTL)
	return d
}

// AgentEnv returns agent.env as a map.
func (c *Config) AgentEnv() map[string]string {
	if len(c.Agent.Env) == 0 {
		return nil
	}
	env := make(map[string]string, len(c.Agent.Env))
	for _, kv := range c.Agent.Env {
		k, v, _ := strings.Cut(kv, "=")
		env[k] = v
	}
	return env
}

// TokenMap returns auth.tokens keyed by token.
func (c *Config) TokenMap() map[string]string {
	m := make(map[string]string, len(c.Auth.Tokens))
	for _, tok := range c.Auth.Tokens {
		m[tok.Token] = tok.Caller
	}
	return m
}
