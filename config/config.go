// =============================================================================
// 📦 RAGFlow 配置结构
// =============================================================================
// 统一配置定义，支持 YAML 文件 + 环境变量覆盖
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"time"
)

// Config 是 RAGFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server"`

	// Store 向量存储配置
	Store StoreConfig `yaml:"store"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm"`

	// Pipeline 查询管道配置
	Pipeline PipelineConfig `yaml:"pipeline"`

	// RateLimit 准入控制配置
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Redis 缓存配置（为空时使用内存限流器）
	Redis RedisConfig `yaml:"redis"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig 向量存储配置
type StoreConfig struct {
	// SQLite 元数据库路径
	DBPath string `yaml:"db_path"`
	// 索引快照文件路径
	IndexPath string `yaml:"index_path"`
}

// LLMConfig 大语言模型配置
type LLMConfig struct {
	// OpenAI 兼容 API 基地址
	BaseURL string `yaml:"base_url"`
	// API Key（通常由环境变量注入）
	APIKey string `yaml:"api_key"`
	// 生成模型
	Model string `yaml:"model"`
	// 嵌入模型
	EmbeddingModel string `yaml:"embedding_model"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout"`
}

// 上下文预算单位
const (
	BudgetUnitChars  = "chars"
	BudgetUnitTokens = "tokens"
)

// PipelineConfig 查询管道配置
type PipelineConfig struct {
	// EnablePlanning 启用查询规划
	EnablePlanning bool `yaml:"enable_planning"`
	// EnableTools 启用工具路由
	EnableTools bool `yaml:"enable_tools"`
	// EnableDocActions 启用确定性文档动作工具
	EnableDocActions bool `yaml:"enable_doc_actions"`
	// EnableFollowups 启用追问生成
	EnableFollowups bool `yaml:"enable_followups"`
	// DefaultTopK 默认检索数量
	DefaultTopK int `yaml:"default_top_k"`
	// DefaultContextBudget 默认上下文预算，单位见 BudgetUnit
	DefaultContextBudget int `yaml:"default_context_budget"`
	// BudgetUnit 上下文预算单位: chars（默认）或 tokens
	BudgetUnit string `yaml:"budget_unit"`
	// ChunkSize 摄取分块大小（字符）
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap 摄取分块重叠（字符）
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// RateLimitConfig 准入控制配置
type RateLimitConfig struct {
	// QueryLimit 每窗口查询上限
	QueryLimit int `yaml:"query_limit"`
	// UploadLimit 每窗口摄取上限
	UploadLimit int `yaml:"upload_limit"`
	// Window 限流窗口
	Window time.Duration `yaml:"window"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址，形如 host:port；为空表示不使用 Redis
	Addr string `yaml:"addr"`
	// 密码
	Password string `yaml:"password"`
	// 数据库编号
	DB int `yaml:"db"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 级别: debug/info/warn/error
	Level string `yaml:"level"`
	// 格式: json/console
	Format string `yaml:"format"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用 OTel 导出
	Enabled bool `yaml:"enabled"`
	// 服务名
	ServiceName string `yaml:"service_name"`
	// OTLP gRPC 端点
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			DBPath:    "data/rag.db",
			IndexPath: "data/index.bin",
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4.1-mini",
			EmbeddingModel: "text-embedding-3-small",
			Timeout:        60 * time.Second,
		},
		Pipeline: PipelineConfig{
			EnablePlanning:       false,
			EnableTools:          true,
			EnableDocActions:     true,
			EnableFollowups:      true,
			DefaultTopK:          5,
			DefaultContextBudget: 1500,
			BudgetUnit:           BudgetUnitChars,
			ChunkSize:            800,
			ChunkOverlap:         100,
		},
		RateLimit: RateLimitConfig{
			QueryLimit:  10,
			UploadLimit: 1,
			Window:      time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "ragflow",
		},
	}
}

// Validate 验证配置合法性
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path must not be empty")
	}
	if c.Store.IndexPath == "" {
		return fmt.Errorf("store.index_path must not be empty")
	}
	if c.Pipeline.DefaultTopK < 1 {
		return fmt.Errorf("pipeline.default_top_k must be >= 1")
	}
	if c.Pipeline.DefaultContextBudget < 1 {
		return fmt.Errorf("pipeline.default_context_budget must be >= 1")
	}
	if u := c.Pipeline.BudgetUnit; u != "" && u != BudgetUnitChars && u != BudgetUnitTokens {
		return fmt.Errorf("pipeline.budget_unit must be %q or %q, got %q", BudgetUnitChars, BudgetUnitTokens, u)
	}
	if c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize {
		return fmt.Errorf("pipeline.chunk_overlap must be smaller than chunk_size")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlp_endpoint required when telemetry is enabled")
	}
	return nil
}
