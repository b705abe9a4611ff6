package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader 配置加载器
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("RAGFLOW").
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: "RAGFLOW"}
}

// WithConfigPath 指定 YAML 配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 指定环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load 加载配置: 默认值 → YAML → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	l.applyEnv(cfg)
	return cfg, nil
}

// applyEnv 应用环境变量覆盖
func (l *Loader) applyEnv(cfg *Config) {
	l.envString("LLM_API_KEY", &cfg.LLM.APIKey)
	l.envString("LLM_BASE_URL", &cfg.LLM.BaseURL)
	l.envString("LLM_MODEL", &cfg.LLM.Model)
	l.envString("LLM_EMBEDDING_MODEL", &cfg.LLM.EmbeddingModel)
	l.envString("DB_PATH", &cfg.Store.DBPath)
	l.envString("INDEX_PATH", &cfg.Store.IndexPath)
	l.envString("REDIS_ADDR", &cfg.Redis.Addr)
	l.envString("REDIS_PASSWORD", &cfg.Redis.Password)
	l.envString("LOG_LEVEL", &cfg.Log.Level)
	l.envString("LOG_FORMAT", &cfg.Log.Format)
	l.envString("OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	l.envInt("HTTP_PORT", &cfg.Server.HTTPPort)
	l.envInt("QUERY_LIMIT", &cfg.RateLimit.QueryLimit)
	l.envInt("UPLOAD_LIMIT", &cfg.RateLimit.UploadLimit)
	l.envBool("ENABLE_PLANNING", &cfg.Pipeline.EnablePlanning)
	l.envBool("ENABLE_TOOL_ROUTER", &cfg.Pipeline.EnableTools)
	l.envBool("ENABLE_DOC_ACTIONS", &cfg.Pipeline.EnableDocActions)
	l.envBool("ENABLE_FOLLOWUPS", &cfg.Pipeline.EnableFollowups)
	l.envBool("TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	l.envDuration("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
}

func (l *Loader) lookup(key string) (string, bool) {
	return os.LookupEnv(l.envPrefix + "_" + key)
}

func (l *Loader) envString(key string, dst *string) {
	if v, ok := l.lookup(key); ok {
		*dst = v
	}
}

func (l *Loader) envInt(key string, dst *int) {
	if v, ok := l.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (l *Loader) envBool(key string, dst *bool) {
	if v, ok := l.lookup(key); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}

func (l *Loader) envDuration(key string, dst *time.Duration) {
	if v, ok := l.lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
