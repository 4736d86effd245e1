package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ClusterName string
	Port        int
	LogLevel    string

	MattermostURL          string
	MattermostBotToken     string
	MattermostWebhookToken string

	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIBaseURL    string
	LLMRatePerMinute int
	LLMRateBurst     int
	LLMMaxRetries    int

	PrometheusURL string

	KubeconfigPath          string
	EnableKubectlSubprocess bool
	KubectlPath             string

	ChatTimeout    time.Duration
	MetricsTimeout time.Duration
	LLMTimeout     time.Duration
	KubectlTimeout time.Duration

	MCPEnabled bool
}

func Load() (*Config, error) {
	cfg := &Config{
		ClusterName:             envString("CLUSTER_NAME", "default"),
		Port:                    envInt("PORT", 8000),
		LogLevel:                envString("LOG_LEVEL", "info"),
		MattermostURL:           strings.TrimRight(os.Getenv("MATTERMOST_URL"), "/"),
		MattermostBotToken:      os.Getenv("MATTERMOST_BOT_TOKEN"),
		MattermostWebhookToken:  os.Getenv("MATTERMOST_WEBHOOK_TOKEN"),
		OpenAIAPIKey:            os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:             envString("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:           os.Getenv("OPENAI_BASE_URL"),
		LLMRatePerMinute:        envInt("LLM_RATE_PER_MINUTE", 45),
		LLMRateBurst:            envInt("LLM_RATE_BURST", 5),
		LLMMaxRetries:           envInt("LLM_MAX_RETRIES", 3),
		PrometheusURL:           strings.TrimRight(envString("PROMETHEUS_URL", "http://prometheus:9090"), "/"),
		KubeconfigPath:          os.Getenv("KUBERNETES_CONFIG_PATH"),
		EnableKubectlSubprocess: envBool("ENABLE_KUBECTL_SUBPROCESS", false),
		KubectlPath:             envString("KUBECTL_PATH", "kubectl"),
		ChatTimeout:             envDuration("CHAT_TIMEOUT", 10*time.Second),
		MetricsTimeout:          envDuration("METRICS_TIMEOUT", 10*time.Second),
		LLMTimeout:              envDuration("LLM_TIMEOUT", 30*time.Second),
		KubectlTimeout:          envDuration("KUBECTL_TIMEOUT", 30*time.Second),
		MCPEnabled:              envBool("MCP_ENABLED", false),
	}

	if cfg.LLMRateBurst < 1 {
		cfg.LLMRateBurst = 1
	}
	if cfg.LLMMaxRetries < 1 {
		cfg.LLMMaxRetries = 1
	} else if cfg.LLMMaxRetries > 10 {
		cfg.LLMMaxRetries = 10
	}

	for name, raw := range map[string]string{
		"MATTERMOST_URL":  cfg.MattermostURL,
		"OPENAI_BASE_URL": cfg.OpenAIBaseURL,
		"PROMETHEUS_URL":  cfg.PrometheusURL,
	} {
		if err := validateURL(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	return cfg, nil
}

// ChatConfigured reports whether outbound chat posts can be made.
func (c *Config) ChatConfigured() bool {
	return c.MattermostURL != "" && c.MattermostBotToken != ""
}

func validateURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
