package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all companion configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Chat model configuration
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine for long-term memory
	Embedding EmbeddingConfig `yaml:"embedding"`

	// WhatsApp Cloud API
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`

	// Backend knowledge search API
	Search SearchConfig `yaml:"search"`

	// Speech and vision adapters
	Speech SpeechConfig `yaml:"speech"`

	// Conversation memory settings
	Memory MemoryConfig `yaml:"memory"`

	// SMS fallback notifications
	Notify NotifyConfig `yaml:"notify"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// LLMConfig configures the chat model client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // groq, anthropic
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// WhatsAppConfig configures the WhatsApp Cloud API client.
type WhatsAppConfig struct {
	Token         string `yaml:"token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	VerifyToken   string `yaml:"verify_token"`
	GraphBaseURL  string `yaml:"graph_base_url"`
	APIVersion    string `yaml:"api_version"`
}

// SearchConfig configures the backend knowledge search API.
type SearchConfig struct {
	Enabled          bool   `yaml:"enabled"`
	BaseURL          string `yaml:"base_url"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	RefreshThreshold int    `yaml:"refresh_threshold"` // seconds of token life left before renewal
	InfoPointBaseURL string `yaml:"info_point_base_url"`
	Timeout          string `yaml:"timeout"`
}

// SpeechConfig configures speech-to-text, text-to-speech and vision.
type SpeechConfig struct {
	WhisperAPIKey  string `yaml:"whisper_api_key"`
	WhisperModel   string `yaml:"whisper_model"`
	WhisperBaseURL string `yaml:"whisper_base_url"`

	ElevenLabsAPIKey  string `yaml:"elevenlabs_api_key"`
	ElevenLabsVoiceID string `yaml:"elevenlabs_voice_id"`
	ElevenLabsBaseURL string `yaml:"elevenlabs_base_url"`

	VisionModel string `yaml:"vision_model"`
}

// MemoryConfig configures short- and long-term conversation memory.
type MemoryConfig struct {
	DatabasePath string `yaml:"database_path"`

	// Long-term recall
	TopK                int     `yaml:"top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// Summarization
	SummaryTrigger   int `yaml:"summary_trigger"`    // summarize once a thread exceeds this many messages
	KeepAfterSummary int `yaml:"keep_after_summary"` // messages retained after a summary pass

	// Routing
	RouterWindow int `yaml:"router_window"` // messages the router examines
}

// NotifyConfig configures the optional Twilio SMS fallback channel.
type NotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	TwilioSID  string `yaml:"twilio_sid"`
	TwilioAuth string `yaml:"twilio_auth"`
	SMSFrom    string `yaml:"sms_from"`
	AlertTo    string `yaml:"alert_to"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // json, text
	DebugMode bool   `yaml:"debug_mode"`
	Dir       string `yaml:"dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "companion",
		Version: "1.0.0",

		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  "15s",
			WriteTimeout: "60s",
		},

		LLM: LLMConfig{
			Provider: "groq",
			Model:    "llama-3.3-70b-versatile",
			BaseURL:  "https://api.groq.com/openai/v1",
			Timeout:  "120s",
		},

		Embedding: EmbeddingConfig{
			Model: "gemini-embedding-001",
		},

		WhatsApp: WhatsAppConfig{
			GraphBaseURL: "https://graph.facebook.com",
			APIVersion:   "v21.0",
		},

		Search: SearchConfig{
			Enabled:          true,
			RefreshThreshold: 300,
			Timeout:          "15s",
		},

		Speech: SpeechConfig{
			WhisperModel:      "whisper-large-v3-turbo",
			WhisperBaseURL:    "https://api.groq.com/openai/v1",
			ElevenLabsBaseURL: "https://api.elevenlabs.io",
			VisionModel:       "llama-3.2-90b-vision-preview",
		},

		Memory: MemoryConfig{
			DatabasePath:        "data/companion.db",
			TopK:                5,
			SimilarityThreshold: 0.45,
			SummaryTrigger:      20,
			KeepAfterSummary:    5,
			RouterWindow:        3,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Dir:    "data/logs",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
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

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "groq"
		}
		if c.Speech.WhisperAPIKey == "" {
			c.Speech.WhisperAPIKey = key
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}
	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		c.Speech.ElevenLabsAPIKey = key
	}

	if tok := os.Getenv("WHATSAPP_TOKEN"); tok != "" {
		c.WhatsApp.Token = tok
	}
	if id := os.Getenv("WHATSAPP_PHONE_NUMBER_ID"); id != "" {
		c.WhatsApp.PhoneNumberID = id
	}
	if tok := os.Getenv("WHATSAPP_VERIFY_TOKEN"); tok != "" {
		c.WhatsApp.VerifyToken = tok
	}

	if url := os.Getenv("SEARCH_API_URL"); url != "" {
		c.Search.BaseURL = url
	}
	if user := os.Getenv("SEARCH_API_USERNAME"); user != "" {
		c.Search.Username = user
	}
	if pass := os.Getenv("SEARCH_API_PASSWORD"); pass != "" {
		c.Search.Password = pass
	}
	if url := os.Getenv("INFO_POINT_URL"); url != "" {
		c.Search.InfoPointBaseURL = url
	}

	if path := os.Getenv("COMPANION_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if addr := os.Getenv("COMPANION_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

// Validate checks that required settings are present for serving.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm api key not configured")
	}
	if c.WhatsApp.Token == "" {
		return fmt.Errorf("whatsapp token not configured")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		return fmt.Errorf("whatsapp phone number id not configured")
	}
	if c.WhatsApp.VerifyToken == "" {
		return fmt.Errorf("whatsapp verify token not configured")
	}
	return nil
}

// GetLLMTimeout returns the chat model timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetSearchTimeout returns the search API timeout as a duration.
func (c *Config) GetSearchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Search.Timeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetServerTimeouts returns the HTTP server read and write timeouts.
func (c *Config) GetServerTimeouts() (read, write time.Duration) {
	read, err := time.ParseDuration(c.Server.ReadTimeout)
	if err != nil {
		read = 15 * time.Second
	}
	write, err = time.ParseDuration(c.Server.WriteTimeout)
	if err != nil {
		write = 60 * time.Second
	}
	return read, write
}
