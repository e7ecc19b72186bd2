package config

import (
	"encoding/json"
	"log"
	"os"
)

type Config struct {
	App       AppConfig                 `json:"app"`
	Server    ServerConfig              `json:"server"`
	Gateways  map[string]GatewayConfig  `json:"gateways"`
	Providers map[string]ProviderConfig `json:"providers"`
	Memory    MemoryConfig              `json:"memory"`
	Retrieval RetrievalConfig           `json:"retrieval"`
	Policy    PolicyConfig              `json:"policy"`
	Profiles  ProfilesConfig            `json:"profiles"`
	Telemetry TelemetryConfig           `json:"telemetry"`
}

type AppConfig struct {
	Name      string `json:"name"`
	Workspace string `json:"workspace"`
}

type ServerConfig struct {
	Addr string `json:"addr"`
}

type GatewayConfig struct {
	Token   string `json:"token"`
	Enabled bool   `json:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
	Enabled bool   `json:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

type RetrievalConfig struct {
	DatabaseURL         string `json:"database_url"`
	EmbedModel          string `json:"embed_model"`
	EmbedModelTag       string `json:"embed_model_tag"`
	EmbedDim            int    `json:"embed_dim"`
	TopK                int    `json:"top_k"`
	MaxParallel         int    `json:"max_parallel"`
	QueryTimeoutSeconds int    `json:"query_timeout_seconds"`
}

type PolicyConfig struct {
	RulesPath string `json:"rules_path"`
}

type ProfilesConfig struct {
	Dir        string `json:"dir"`
	PersonaDir string `json:"persona_dir"`
}

type TelemetryConfig struct {
	LedgerPath string `json:"ledger_path"`
}

func LoadConfig(path string) *Config {
	file, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config file: %v", err)
	}

	return &cfg
}

// GetDefaultProvider returns the first enabled provider
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetGateway returns the named gateway config if enabled
func (c *Config) GetGateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled {
		return g, true
	}
	return GatewayConfig{}, false
}
