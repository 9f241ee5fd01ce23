package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/isotope/ragatouille/internal/evaluation"
	"github.com/isotope/ragatouille/internal/models"
	"github.com/isotope/ragatouille/internal/services"
	"gopkg.in/yaml.v3"
)

type judgeConfig interface {
	llm(logger *slog.Logger) (evaluation.LLM, error)
}

// BaseLLMConfig contains the common fields for all judge configurations.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Model      string                 `yaml:"model"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

type config struct {
	Port       string           `yaml:"port"`
	LogLevel   string           `yaml:"logLevel"`
	Theme      models.Theme     `yaml:"theme"`
	Retrieval  retrievalConfig  `yaml:"retrieval"`
	Evaluation evaluationConfig `yaml:"evaluation"`
	Judge      judgeConfig      `yaml:"judge"`
}

type retrievalConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type evaluationConfig struct {
	// Records is a file path or an http(s) URL of the scored records shown on the dashboard.
	Records string `yaml:"records"`
	// Scorer selects how test cases are evaluated: "placeholder" or "judge".
	Scorer string `yaml:"scorer"`
}

const (
	scorerPlaceholder = "placeholder"
	scorerJudge       = "judge"
)

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
	MaxTokens     int    `yaml:"maxTokens"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
}

const defaultOllamaHost = "http://127.0.0.1:11434"

var errNoJudge = errors.New("judge is not configured")

func defaultConfig() config {
	return config{
		Port:     "8080",
		LogLevel: "info",
		Theme:    models.ThemeDark,
		Evaluation: evaluationConfig{
			Records: "output.json",
			Scorer:  scorerPlaceholder,
		},
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ragatouille", "config.yaml")
}

// loadConfig reads the configuration at path. A missing file at the default location yields the
// defaults; a missing file that was asked for explicitly is an error.
func loadConfig(path string) (config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	f, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			cfg.applyEnv()
			return cfg, nil
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	return parseConfig(f)
}

func parseConfig(r io.Reader) (config, error) {
	cfg := defaultConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	cfg.applyEnv()

	switch cfg.Evaluation.Scorer {
	case scorerPlaceholder, scorerJudge:
	default:
		return config{}, fmt.Errorf("unknown scorer: %s", cfg.Evaluation.Scorer)
	}
	cfg.Theme = models.ParseTheme(string(cfg.Theme))

	return cfg, nil
}

func (c *config) applyEnv() {
	if c.Retrieval.URL == "" {
		c.Retrieval.URL = os.Getenv("RAGATOUILLE_RETRIEVAL_URL")
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port       *string          `yaml:"port"`
		LogLevel   *string          `yaml:"logLevel"`
		Theme      *models.Theme    `yaml:"theme"`
		Retrieval  retrievalConfig  `yaml:"retrieval"`
		Evaluation evaluationConfig `yaml:"evaluation"`
		Judge      map[string]any   `yaml:"judge"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != nil {
		c.Port = *rawConfig.Port
	}
	if rawConfig.LogLevel != nil {
		c.LogLevel = *rawConfig.LogLevel
	}
	if rawConfig.Theme != nil {
		c.Theme = *rawConfig.Theme
	}
	c.Retrieval = rawConfig.Retrieval
	if rawConfig.Evaluation.Records != "" {
		c.Evaluation.Records = rawConfig.Evaluation.Records
	}
	if rawConfig.Evaluation.Scorer != "" {
		c.Evaluation.Scorer = rawConfig.Evaluation.Scorer
	}

	if rawConfig.Judge == nil {
		return nil
	}

	judgeProvider, ok := rawConfig.Judge["provider"].(string)
	if !ok {
		return fmt.Errorf("judge provider is required")
	}

	judgeRawYAML, err := yaml.Marshal(rawConfig.Judge)
	if err != nil {
		return err
	}

	var judge judgeConfig
	switch judgeProvider {
	case "openai":
		judge = &openAIConfig{}
	case "ollama":
		judge = &ollamaConfig{}
	case "anthropic":
		judge = &anthropicConfig{}
	case "openrouter":
		judge = &openRouterConfig{}
	default:
		return fmt.Errorf("unknown judge provider: %s", judgeProvider)
	}

	if err := yaml.Unmarshal(judgeRawYAML, judge); err != nil {
		return err
	}

	c.Judge = judge
	return nil
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (c config) judge(logger *slog.Logger) (evaluation.Judge, error) {
	if c.Judge == nil {
		return evaluation.Judge{}, errNoJudge
	}
	llm, err := c.Judge.llm(logger)
	if err != nil {
		return evaluation.Judge{}, err
	}
	return evaluation.NewJudge(llm), nil
}

func (o openAIConfig) llm(logger *slog.Logger) (evaluation.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && o.BaseURL == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, o.Parameters, logger), nil
}

func (o ollamaConfig) llm(*slog.Logger) (evaluation.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	llm, err := services.NewOllama(host, o.Model, o.Parameters)
	if err != nil {
		return nil, err
	}
	return llm, nil
}

func (a anthropicConfig) llm(*slog.Logger) (evaluation.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Endpoint, a.Model, a.MaxTokens, a.Parameters), nil
}

func (o openRouterConfig) llm(logger *slog.Logger) (evaluation.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return services.NewOpenRouter(apiKey, o.Endpoint, o.Model, o.Parameters, logger), nil
}
