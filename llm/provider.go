// Package llm 提供统一的生成提供者接口和实现.
package llm

import (
	"context"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 对话消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat 约束生成输出的结构
type ResponseFormat string

const (
	// FormatText 自由文本输出
	FormatText ResponseFormat = "text"
	// FormatJSON 强制 JSON 对象输出
	FormatJSON ResponseFormat = "json_object"
)

// CompletionRequest 表示一次生成请求.
type CompletionRequest struct {
	Messages       []Message      `json:"messages"`
	Model          string         `json:"model,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat ResponseFormat `json:"response_format,omitempty"`
}

// Usage 表示生成请求的 Token 用量.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// CompletionResponse 表示生成请求的响应.
type CompletionResponse struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	Usage   Usage  `json:"usage"`
}

// Generator 定义统一的生成提供者接口.
// 失败时返回 types.ErrGenerationUnavailable 结构化错误.
type Generator interface {
	// Complete 为给定请求生成补全.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name 返回提供者名称.
	Name() string
}
