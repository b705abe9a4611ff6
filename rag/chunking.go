package rag

import (
	"strings"

	"go.uber.org/zap"
)

// ChunkingConfig 分块配置，尺寸单位为字符.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// DefaultChunkingConfig 返回默认分块配置.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{ChunkSize: 800, ChunkOverlap: 100}
}

// Splitter 递归字符分块器.
// 按分隔符优先级（段落 > 行 > 句子 > 空格）切分，
// 超长片段降级到下一级分隔符，最后手段按字符硬切.
type Splitter struct {
	config ChunkingConfig
	logger *zap.Logger
}

// 分隔符优先级
var splitSeparators = []string{"\n\n", "\n", ". ", "。", "! ", "！", "? ", "？", " "}

// NewSplitter 创建分块器，非法尺寸回落到默认值.
func NewSplitter(config ChunkingConfig, logger *zap.Logger) *Splitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 800
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 8
	}
	return &Splitter{
		config: config,
		logger: logger.With(zap.String("component", "splitter")),
	}
}

// Split 把文本切成带重叠的块，空白输入返回空切片.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}

	pieces := s.recursiveSplit(text, splitSeparators)
	chunks := s.merge(pieces)

	s.logger.Debug("text split",
		zap.Int("input_chars", len(text)),
		zap.Int("chunks", len(chunks)))
	return chunks
}

// recursiveSplit 把文本切成不超过 ChunkSize 的片段，保留分隔符.
func (s *Splitter) recursiveSplit(text string, separators []string) []string {
	if len(text) <= s.config.ChunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return s.hardSplit(text)
	}

	sep := separators[0]
	parts := strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		// 当前分隔符不出现，降级
		return s.recursiveSplit(text, separators[1:])
	}

	var pieces []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if len(part) > s.config.ChunkSize {
			pieces = append(pieces, s.recursiveSplit(part, separators[1:])...)
		} else {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

// hardSplit 按 rune 硬切，避免把多字节字符切在中间.
func (s *Splitter) hardSplit(text string) []string {
	runes := []rune(text)
	var pieces []string
	for i := 0; i < len(runes); i += s.config.ChunkSize {
		end := i + s.config.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[i:end]))
	}
	return pieces
}

// merge 把小片段贪心合并到 ChunkSize，块间带 ChunkOverlap 字符重叠.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+len(piece) > s.config.ChunkSize {
			tail := overlapTail(current.String(), s.config.ChunkOverlap)
			flush()
			current.WriteString(tail)
		}
		current.WriteString(piece)
	}
	flush()

	return chunks
}

// overlapTail 取文本末尾不超过 n 字符的后缀，对齐到 rune 边界.
func overlapTail(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}
