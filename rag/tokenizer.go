package rag

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer 计算文本的预算开销，供上下文装箱使用.
// 预算单位由实现决定：默认按字符计（CharCounter），
// 也可以换成真实 token 计数（TiktokenCounter）.
type Tokenizer interface {
	CountTokens(text string) int
}

// CharCounter 按字符（rune）计数，上下文预算的默认单位.
type CharCounter struct{}

func (CharCounter) CountTokens(text string) int {
	return utf8.RuneCountInString(text)
}

// TiktokenCounter 基于 tiktoken 编码的 token 计数器.
// 编码数据首次使用时才初始化（可能触发下载），
// 初始化失败时回退到 len(text)/4 字符估算并记录警告.
type TiktokenCounter struct {
	model    string
	encoding string
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4.1":                "o200k_base",
	"gpt-4.1-mini":           "o200k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
}

// NewTiktokenCounter 为给定模型创建计数器，未知模型使用 cl100k_base.
func NewTiktokenCounter(model string, logger *zap.Logger) *TiktokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	encoding, ok := modelEncodings[model]
	if !ok {
		for prefix, enc := range modelEncodings {
			if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				encoding = enc
				ok = true
				break
			}
		}
	}
	if !ok {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{
		model:    model,
		encoding: encoding,
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = err
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens 返回文本的 token 数，编码不可用时退化为字符估算.
func (t *TiktokenCounter) CountTokens(text string) int {
	if err := t.init(); err != nil {
		t.logger.Warn("tiktoken encoding unavailable, falling back to estimate",
			zap.String("encoding", t.encoding), zap.Error(err))
		return len(text) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// EstimatorCounter 纯估算计数器：len(text)/4，测试和离线环境使用.
type EstimatorCounter struct{}

func (EstimatorCounter) CountTokens(text string) int {
	return len(text) / 4
}
