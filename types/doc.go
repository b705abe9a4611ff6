// Package types 定义跨包共享的结构化错误类型与错误码。
package types
