package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingCredential is returned when no API key can be found.
var ErrMissingCredential = errors.New("API key not configured")

// Config holds all persona-chat configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Grounding GroundingConfig `yaml:"grounding"`
	Persona   PersonaConfig   `yaml:"persona"`
	UI        UIConfig        `yaml:"ui"`
	Chat      ChatConfig      `yaml:"chat"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`

	// SecretsFile is a YAML map of secret names to values, read when the
	// environment does not provide the API key.
	SecretsFile string `yaml:"secrets_file"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LLMConfig configures the hosted model.
type LLMConfig struct {
	Provider    string   `yaml:"provider"` // gemini, openai
	BaseURL     string   `yaml:"base_url"` // openai only
	APIKeyEnv   string   `yaml:"api_key_env"`
	Model       string   `yaml:"model"` // empty = auto-select
	Preferences []string `yaml:"preferences"`
	Temperature float32  `yaml:"temperature"`
	TopP        float32  `yaml:"top_p"`
	Timeout     string   `yaml:"timeout"` // "0" or empty = no limit
}

type GroundingConfig struct {
	Dir                  string   `yaml:"dir"`
	Extensions           []string `yaml:"extensions"`
	PrimaryMarkers       []string `yaml:"primary_markers"`
	SupplementaryMarkers []string `yaml:"supplementary_markers"`
	Manifest             string   `yaml:"manifest"`
}

type PersonaConfig struct {
	Name     string   `yaml:"name"`
	Headline string   `yaml:"headline"`
	Audience string   `yaml:"audience"`
	Themes   []string `yaml:"themes"`
	MaxWords int      `yaml:"max_words"`
	Greeting string   `yaml:"greeting"`
}

type QuickPrompt struct {
	Label  string `yaml:"label"`
	Prompt string `yaml:"prompt"`
}

type Link struct {
	Label string `yaml:"label"`
	URL   string `yaml:"url"`
}

// UIConfig is the static page content.
type UIConfig struct {
	Title        string        `yaml:"title"`
	Intro        string        `yaml:"intro"`
	Caption      string        `yaml:"caption"`
	Placeholder  string        `yaml:"placeholder"`
	QuickPrompts []QuickPrompt `yaml:"quick_prompts"`
	Links        []Link        `yaml:"links"`
	Note         string        `yaml:"note"`
}

type ChatConfig struct {
	// OnTurnError is "keep" or "rollback".
	OnTurnError string `yaml:"on_turn_error"`
}

type SessionConfig struct {
	Store     string `yaml:"store"` // memory, sqlite
	SQLiteDSN string `yaml:"sqlite_dsn"`
	TTL       string `yaml:"ttl"` // "0" or empty = never expire
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8100"},
		LLM: LLMConfig{
			Provider:    "gemini",
			Preferences: []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash", "gemini-1.5-pro", "gemini-pro"},
			Temperature: 0.7,
			TopP:        0.95,
		},
		Grounding: GroundingConfig{
			Dir:                  "data",
			Extensions:           []string{".txt", ".md"},
			PrimaryMarkers:       []string{"2025"},
			SupplementaryMarkers: []string{"2022"},
			Manifest:             "manifest.yaml",
		},
		Persona: PersonaConfig{
			Name:     "the applicant",
			Headline: "law school applicant",
			Audience: "law school admissions officers",
			MaxWords: 150,
			Greeting: "Hello! I represent the applicant. Ask me anything about their experience or academic background.",
		},
		UI: UIConfig{
			Title:       "Chat with the applicant's AI",
			Intro:       "I am an AI grounded in the applicant's application materials.",
			Placeholder: "Type your question here...",
			QuickPrompts: []QuickPrompt{
				{Label: "Why Law?", Prompt: "Why do you want to go to law school given your tech career?"},
				{Label: "Tech Experience", Prompt: "Tell me about your technical leadership experience."},
				{Label: "Education", Prompt: "Tell me about your academic background."},
			},
			Note: "Built with Go and the Gemini API.",
		},
		Chat:        ChatConfig{OnTurnError: "keep"},
		Session:     SessionConfig{Store: "memory"},
		Logging:     LoggingConfig{Level: "info", Format: "json"},
		SecretsFile: "secrets.yaml",
	}
}

// Load reads a YAML config file over the defaults. A missing file yields
// the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PERSONA_CHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PERSONA_CHAT_GROUNDING_DIR"); v != "" {
		c.Grounding.Dir = v
	}
	if v := os.Getenv("PERSONA_CHAT_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("PERSONA_CHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks settings that do not need the network.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini":
	case "openai":
		if c.LLM.BaseURL == "" {
			return fmt.Errorf("llm.base_url is required for the openai provider")
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.LLM.TopP < 0 || c.LLM.TopP > 1 {
		return fmt.Errorf("llm.top_p must be between 0 and 1")
	}
	if _, err := c.LLM.TimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.Session.TTLDuration(); err != nil {
		return err
	}
	switch c.Session.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}
	switch c.Chat.OnTurnError {
	case "", "keep", "rollback":
	default:
		return fmt.Errorf("chat.on_turn_error must be keep or rollback, got %q", c.Chat.OnTurnError)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	return nil
}

func (c *LLMConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("llm.timeout", c.Timeout)
}

func (c *SessionConfig) TTLDuration() (time.Duration, error) {
	return parseDuration("session.ttl", c.TTL)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s cannot be negative", field)
	}
	return d, nil
}
