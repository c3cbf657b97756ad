package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider    string   `yaml:"provider"` // ollama or openai
		BaseURL     string   `yaml:"base_url"`
		APIKey      string   `yaml:"api_key"`
		Model       string   `yaml:"model"`
		MaxTokens   int      `yaml:"max_tokens"`
		Temperature *float64 `yaml:"temperature"` // nil means default; 0 is greedy
	} `yaml:"llm"`

	Embedding struct {
		Model       string        `yaml:"model"`
		BatchSize   int           `yaml:"batch_size"`
		MaxAttempts int           `yaml:"max_attempts"`
		InitialWait time.Duration `yaml:"initial_wait"`
	} `yaml:"embedding"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"database"`

	Broker struct {
		URL           string `yaml:"url"`
		Subject       string `yaml:"subject"`
		StatusSubject string `yaml:"status_subject"`
		QueueGroup    string `yaml:"queue_group"`
	} `yaml:"broker"`

	Scraper struct {
		MaxDepth       int           `yaml:"max_depth"`
		RateLimit      float64       `yaml:"rate_limit"`
		Timeout        time.Duration `yaml:"timeout"`
		Retries        *int          `yaml:"retries"`
		UserAgent      string        `yaml:"user_agent"`
		IgnorePatterns []string      `yaml:"ignore_patterns"`
	} `yaml:"scraper"`

	Processor struct {
		ChunkSize    int  `yaml:"chunk_size"`
		ChunkOverlap *int `yaml:"chunk_overlap"`
	} `yaml:"processor"`

	Retrieval struct {
		TopK              int  `yaml:"top_k"`
		GenerationRetries *int `yaml:"generation_retries"`
	} `yaml:"retrieval"`

	Worker struct {
		Count      int           `yaml:"count"`
		Buffer     int           `yaml:"buffer"`
		JobTimeout time.Duration `yaml:"job_timeout"`
	} `yaml:"worker"`

	Dispatcher struct {
		Dedup  bool          `yaml:"dedup"`
		JobTTL time.Duration `yaml:"job_ttl"`
	} `yaml:"dispatcher"`

	Server struct {
		Port       string `yaml:"port"`
		CORSOrigin string `yaml:"cors_origin"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/jobimport/config.yaml"),
			"/etc/jobimport/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		if config.LLM.APIKey != "" {
			config.LLM.Provider = "openai"
		} else {
			config.LLM.Provider = "ollama"
		}
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "openai" {
			config.LLM.Model = "gpt-4o-mini"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1000
	}
	if config.LLM.Temperature == nil {
		config.LLM.Temperature = ptr(0.1)
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.Model == "" {
		if config.LLM.Provider == "openai" {
			config.Embedding.Model = "text-embedding-3-small"
		} else {
			config.Embedding.Model = "nomic-embed-text:latest"
		}
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 32
	}
	if config.Embedding.MaxAttempts == 0 {
		config.Embedding.MaxAttempts = 3
	}
	if config.Embedding.InitialWait == 0 {
		config.Embedding.InitialWait = 500 * time.Millisecond
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "jobs"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Broker.Subject == "" {
		config.Broker.Subject = "jobs.import"
	}
	if config.Broker.StatusSubject == "" {
		config.Broker.StatusSubject = "jobs.import.status"
	}
	if config.Broker.QueueGroup == "" {
		config.Broker.QueueGroup = "import-workers"
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 10 * time.Second
	}
	if config.Scraper.Retries == nil {
		config.Scraper.Retries = ptr(1)
	}
	if config.Scraper.UserAgent == "" {
		config.Scraper.UserAgent = "Mozilla/5.0 (compatible; jobimport/1.0)"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	// Keep the default overlap below small configured chunk sizes.
	if config.Processor.ChunkOverlap == nil {
		config.Processor.ChunkOverlap = ptr(min(200, config.Processor.ChunkSize/5))
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 4
	}
	if config.Retrieval.GenerationRetries == nil {
		config.Retrieval.GenerationRetries = ptr(1)
	}

	if config.Worker.Count == 0 {
		config.Worker.Count = 2
	}
	if config.Worker.Buffer == 0 {
		config.Worker.Buffer = 64
	}
	if config.Worker.JobTimeout == 0 {
		config.Worker.JobTimeout = 5 * time.Minute
	}

	if config.Dispatcher.JobTTL == 0 {
		config.Dispatcher.JobTTL = 24 * time.Hour
	}

	if config.Server.Port == "" {
		config.Server.Port = "8000"
	}
	if config.Server.CORSOrigin == "" {
		config.Server.CORSOrigin = "*"
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if brokerURL := os.Getenv("BROKER_URL"); brokerURL != "" {
		config.Broker.URL = brokerURL
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
}

func ptr[T any](v T) *T {
	return &v
}
