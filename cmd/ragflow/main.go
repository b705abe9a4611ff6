// =============================================================================
// RAGFlow 主入口
// =============================================================================
// 检索增强问答服务入口点，包含 HTTP 服务、健康检查、Prometheus 指标
//
// 使用方法:
//
//	ragflow serve                       # 启动服务
//	ragflow serve --config config.yaml  # 指定配置文件
//	ragflow version                     # 显示版本信息
//	ragflow health                      # 健康检查
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/internal/ratelimit"
	"github.com/BaSui01/ragflow/internal/server"
	"github.com/BaSui01/ragflow/internal/telemetry"
	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/llm/embedding"
	"github.com/BaSui01/ragflow/rag"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting RAGFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx := context.Background()

	// OpenTelemetry
	otelProvider, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	// 元数据库 + 向量引擎
	meta, err := rag.NewMetadataStore(cfg.Store.DBPath, logger)
	if err != nil {
		logger.Fatal("Failed to open metadata store", zap.Error(err))
	}
	defer meta.Close()

	engine, err := rag.NewVectorEngine(meta, cfg.Store.IndexPath, logger)
	if err != nil {
		logger.Fatal("Failed to initialize vector engine", zap.Error(err))
	}
	logger.Info("vector engine ready", zap.Int("index_size", engine.IndexSize()))

	// LLM 提供者
	generator := llm.NewOpenAIProvider(llm.OpenAIConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, logger)
	embedder := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.EmbeddingModel,
		Timeout: cfg.LLM.Timeout,
	}, logger)

	// 限流后端：配置了 Redis 用共享计数，否则进程内令牌桶
	var limiter ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis not available, falling back to in-memory rate limiter", zap.Error(err))
			limiter = ratelimit.NewMemoryLimiter()
		} else {
			limiter = ratelimit.NewRedisLimiter(client, logger)
		}
	} else {
		limiter = ratelimit.NewMemoryLimiter()
	}

	collector := metrics.New(nil)

	var tracer rag.Tracer = rag.NoopTracer{}
	if cfg.Telemetry.Enabled {
		tracer = rag.NewOTelTracer()
	}

	orchestrator := rag.NewOrchestrator(
		rag.PipelineConfig{
			Model:                cfg.LLM.Model,
			EnablePlanning:       cfg.Pipeline.EnablePlanning,
			EnableTools:          cfg.Pipeline.EnableTools,
			EnableDocActions:     cfg.Pipeline.EnableDocActions,
			EnableFollowups:      cfg.Pipeline.EnableFollowups,
			DefaultTopK:          cfg.Pipeline.DefaultTopK,
			DefaultContextBudget: cfg.Pipeline.DefaultContextBudget,
		},
		engine, embedder, generator,
		budgetCounter(cfg, logger),
		tracer, collector, logger,
	)

	srv := server.New(cfg, orchestrator, engine, embedder, limiter, collector, logger)

	// 启动并等待关闭信号
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if otelProvider != nil {
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}

	logger.Info("RAGFlow stopped")
}

// budgetCounter 按配置选择上下文预算计数器：默认按字符，
// budget_unit 为 tokens 时按生成模型的 tiktoken 编码计数.
func budgetCounter(cfg *config.Config, logger *zap.Logger) rag.Tokenizer {
	if cfg.Pipeline.BudgetUnit == config.BudgetUnitTokens {
		return rag.NewTiktokenCounter(cfg.LLM.Model, logger)
	}
	return rag.CharCounter{}
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("RAGFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`RAGFlow - Retrieval-Augmented Answering Service

Usage:
  ragflow <command> [options]

Commands:
  serve     Start the RAGFlow server
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Environment:
  RAGFLOW_LLM_API_KEY   OpenAI-compatible API key (required for serve)`)
}

// =============================================================================
// 📝 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
