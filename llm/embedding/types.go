// Package embedding 提供统一的嵌入提供者接口和实现.
package embedding

import (
	"context"
)

// Provider 定义统一的嵌入提供者接口.
// 失败时返回 types.ErrEmbeddingUnavailable 结构化错误.
type Provider interface {
	// Embed 为给定输入批量生成嵌入.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// Name 返回提供者名称.
	Name() string

	// Dimensions 返回默认嵌入维度（0 表示未知）.
	Dimensions() int
}
