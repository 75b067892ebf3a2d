package config

import "time"

// Config holds all application configuration.
type Config struct {
	LLM           LLM           `mapstructure:"llm"`
	Classifier    Classifier    `mapstructure:"classifier"`
	Scanner       Scanner       `mapstructure:"scanner"`
	Store         Store         `mapstructure:"store"`
	Storage       Storage       `mapstructure:"storage"`
	Elasticsearch Elasticsearch `mapstructure:"elasticsearch"`
	Fetcher       Fetcher       `mapstructure:"fetcher"`
	MCP           MCP           `mapstructure:"mcp"`
	Platform      Platform      `mapstructure:"platform"`
}

// LLM holds the classification endpoint configuration.
type LLM struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ModelsURL   string  `mapstructure:"models_url"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"` // overrides the stored key when set
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// Classifier holds batching and retry configuration.
type Classifier struct {
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	BatchDelay  time.Duration `mapstructure:"batch_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Scanner holds item scanning configuration.
type Scanner struct {
	Debounce      time.Duration `mapstructure:"debounce"`
	MaxIDAttempts int           `mapstructure:"max_id_attempts"`
}

// Store selects the durable key-value backend.
type Store struct {
	Backend string `mapstructure:"backend"` // "sqlite", "s3" or "memory"
	Path    string `mapstructure:"path"`    // sqlite database path
	Prefix  string `mapstructure:"prefix"`  // s3 key prefix
}

// Storage holds S3/MinIO storage configuration.
type Storage struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// Elasticsearch holds the optional classification archive configuration.
type Elasticsearch struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// Fetcher holds feed page fetching configuration.
type Fetcher struct {
	Delay     time.Duration `mapstructure:"delay"`
	MaxPages  int           `mapstructure:"max_pages"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	Cookie    string        `mapstructure:"cookie"`
}

// MCP holds MCP server configuration.
type MCP struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// Platform selects the host platform adapter.
type Platform struct {
	Host string `mapstructure:"host"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		LLM: LLM{
			Endpoint:    "https://api.groq.com/openai/v1/chat/completions",
			ModelsURL:   "https://api.groq.com/openai/v1/models",
			Model:       "llama-3.1-8b-instant",
			Temperature: 0.1,
			MaxTokens:   4096,
		},
		Classifier: Classifier{
			BatchSize:   30,
			MaxAttempts: 3,
			RetryDelay:  500 * time.Millisecond,
			BatchDelay:  500 * time.Millisecond,
			Timeout:     30 * time.Second,
		},
		Scanner: Scanner{
			Debounce:      400 * time.Millisecond,
			MaxIDAttempts: 5,
		},
		Store: Store{
			Backend: "sqlite",
			Path:    "feedfilter.db",
			Prefix:  "feedfilter",
		},
		Storage: Storage{
			Endpoint:        "localhost:9002",
			Bucket:          "feedfilter",
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
			UseSSL:          false,
		},
		Elasticsearch: Elasticsearch{
			Enabled:   false, // archive is opt-in
			Addresses: []string{"http://localhost:9200"},
			Index:     "feedfilter-classifications",
		},
		Fetcher: Fetcher{
			Delay:     time.Second,
			MaxPages:  1,
			Timeout:   30 * time.Second,
			UserAgent: "feedfilter/1.0",
		},
		MCP: MCP{
			Name:    "feedfilter",
			Version: "1.0.0",
		},
		Platform: Platform{
			Host: "x.com",
		},
	}
}
