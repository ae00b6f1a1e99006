package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "aide"
	configName = "config"
	configType = "yaml"
	envPrefix  = "AIDE"
)

// Config is the on-disk configuration of the assistant.
type Config struct {
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Calendar   CalendarConfig   `mapstructure:"calendar" yaml:"calendar"`
	Email      EmailConfig      `mapstructure:"email" yaml:"email"`
	VirusTotal VirusTotalConfig `mapstructure:"virustotal" yaml:"virustotal"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// LLMConfig selects and tunes the language model backend.
type LLMConfig struct {
	// Provider is "gemini" or "ollama".
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Endpoint is only used by the ollama provider.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	// MaxTokens caps the length of a single completion.
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens"`
	// ContextTokens, SafetyMargin and ChunkTokens drive long email summarization.
	ContextTokens int    `mapstructure:"context_tokens" yaml:"context_tokens"`
	SafetyMargin  int    `mapstructure:"safety_margin" yaml:"safety_margin"`
	ChunkTokens   int    `mapstructure:"chunk_tokens" yaml:"chunk_tokens"`
	Encoding      string `mapstructure:"encoding" yaml:"encoding"`
}

type CalendarConfig struct {
	// Name is the calendar summary to operate on. "primary" uses the account's main calendar.
	Name     string `mapstructure:"name" yaml:"name"`
	TimeZone string `mapstructure:"timezone" yaml:"timezone"`
}

type EmailConfig struct {
	Address    string `mapstructure:"address" yaml:"address"`
	Password   string `mapstructure:"password" yaml:"password,omitempty"`
	IMAPAddr   string `mapstructure:"imap_addr" yaml:"imap_addr"`
	FetchLimit int    `mapstructure:"fetch_limit" yaml:"fetch_limit"`
}

type VirusTotalConfig struct {
	APIKey       string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	PollAttempts int           `mapstructure:"poll_attempts" yaml:"poll_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type ServerConfig struct {
	Addr       string        `mapstructure:"addr" yaml:"addr"`
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// GetXdgHome returns the directory holding the config, token and database files.
func GetXdgHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := GetXdgHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configName+"."+configType), nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.endpoint", "http://localhost:11434")
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.context_tokens", 4096)
	v.SetDefault("llm.safety_margin", 500)
	v.SetDefault("llm.chunk_tokens", 3000)
	v.SetDefault("llm.encoding", "cl100k_base")

	v.SetDefault("calendar.name", "primary")
	v.SetDefault("calendar.timezone", "Europe/Paris")

	v.SetDefault("email.imap_addr", "imap.gmail.com:993")
	v.SetDefault("email.fetch_limit", 5)

	v.SetDefault("virustotal.poll_attempts", 12)
	v.SetDefault("virustotal.poll_interval", 10*time.Second)

	v.SetDefault("database.path", filepath.Join(dir, "tasks.db"))

	v.SetDefault("server.addr", "127.0.0.1:8484")
	v.SetDefault("server.session_ttl", 30*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load reads the config file (if any) and applies AIDE_* environment overrides.
// An empty path means the default location under the XDG config home.
func Load(path string) (*Config, error) {
	dir, err := GetXdgHome()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = filepath.Join(dir, configName+"."+configType)
	}

	v := viper.New()
	setDefaults(v, dir)
	v.SetConfigFile(path)
	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Secrets have no defaults, so viper only sees their env vars when bound.
	for _, key := range []string{"llm.api_key", "email.address", "email.password", "virustotal.api_key"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the components cannot work with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini", "ollama":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	if c.LLM.ChunkTokens <= 0 {
		return fmt.Errorf("llm.chunk_tokens must be positive, got %d", c.LLM.ChunkTokens)
	}
	if c.LLM.SafetyMargin >= c.LLM.ContextTokens {
		return fmt.Errorf("llm.safety_margin (%d) must be smaller than llm.context_tokens (%d)",
			c.LLM.SafetyMargin, c.LLM.ContextTokens)
	}
	if c.VirusTotal.PollAttempts <= 0 {
		return fmt.Errorf("virustotal.poll_attempts must be positive, got %d", c.VirusTotal.PollAttempts)
	}
	return nil
}

// SetCalendarName stores name as calendar.name in the config file at path,
// or at the default location when path is empty. Only that key changes: the
// rest of the file is kept as written, so values supplied through AIDE_*
// variables never reach the disk.
func SetCalendarName(path, name string) error {
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return err
		}
	}

	var doc yaml.Node
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("config %s is not a YAML mapping", path)
	}
	setString(doc.Content[0], []string{"calendar", "name"}, name)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	defer f.Close()

	encoder := yaml.NewEncoder(f)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return encoder.Close()
}

// setString walks keys through nested mappings under m, creating missing
// levels, and sets the last one to a string scalar.
func setString(m *yaml.Node, keys []string, value string) {
	for i, key := range keys {
		var child *yaml.Node
		for j := 0; j+1 < len(m.Content); j += 2 {
			if m.Content[j].Value == key {
				child = m.Content[j+1]
				break
			}
		}
		if child == nil {
			child = &yaml.Node{}
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
		}
		if i == len(keys)-1 {
			*child = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value, LineComment: child.LineComment}
			return
		}
		if child.Kind != yaml.MappingNode {
			*child = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}
		m = child
	}
}
