// Package rag 实现混合检索引擎与查询编排管道.
//
// 引擎由三层组成：持久化的元数据存储（追加写入的 chunk 记录）、
// 内存向量索引（以 chunk id 为键的余弦近邻结构，带二进制快照）、
// 以及组合两者的向量存储引擎。管道按固定阶段顺序执行：
// 规划 → 多查询稠密检索 → 去重 → 词法重排 → 语义重排 →
// 上下文构建 → 工具路由 → 生成 → 追问。
package rag
