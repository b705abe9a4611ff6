package rag

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// indexState 向量索引状态机.
type indexState string

const (
	indexAbsent     indexState = "absent"
	indexLoaded     indexState = "loaded"
	indexRebuilding indexState = "rebuilding"
)

// VectorEngine 向量存储引擎：组合元数据存储与内存向量索引，
// 提供带租户/文档过滤的 add/search.
//
// 索引是引擎内唯一的共享可变资源，由单个互斥锁保护，
// add、search 与快照写入全部串行化.
type VectorEngine struct {
	meta         *MetadataStore
	snapshotPath string

	mu    sync.Mutex
	index *flatIndex // nil 表示 Absent
	state indexState

	logger *zap.Logger
}

// NewVectorEngine 创建引擎并尝试加载索引快照.
// 快照缺失或不可读时从元数据全量重建；元数据为空则索引保持 Absent.
func NewVectorEngine(meta *MetadataStore, snapshotPath string, logger *zap.Logger) (*VectorEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &VectorEngine{
		meta:         meta,
		snapshotPath: snapshotPath,
		state:        indexAbsent,
		logger:       logger.With(zap.String("component", "vector_engine")),
	}

	idx, err := loadSnapshot(snapshotPath)
	switch {
	case err == nil:
		e.index = idx
		e.state = indexLoaded
		e.logger.Info("index snapshot loaded",
			zap.Int("size", idx.Size()),
			zap.Int("dim", idx.Dim()))
	case os.IsNotExist(err):
		// 首次启动：若元数据已有记录则重建，否则保持 Absent.
		if rebuildErr := e.rebuild(context.Background(), 0); rebuildErr != nil {
			return nil, rebuildErr
		}
	default:
		e.logger.Warn("index snapshot unreadable, rebuilding from metadata", zap.Error(err))
		if rebuildErr := e.rebuild(context.Background(), 0); rebuildErr != nil {
			return nil, rebuildErr
		}
	}

	return e, nil
}

// AddChunks 批量摄取：逐条追加元数据（单条独立持久化），
// L2 归一化嵌入后在排他锁下更新索引，并在返回前同步重写快照.
// 维度与现有索引不符时丢弃索引并从元数据全量重建（摊销罕见的昂贵路径，
// 代价 O(语料规模)，不是稳态路径）.
func (e *VectorEngine) AddChunks(ctx context.Context, chunks []Chunk, embeddings [][]float64) ([]int64, error) {
	if len(chunks) != len(embeddings) {
		return nil, types.NewError(types.ErrInvalidRequest, "chunks and embeddings length mismatch").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if len(chunks) == 0 {
		return []int64{}, nil
	}

	dim := len(embeddings[0])
	if dim == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "embedding has zero dimension").
			WithHTTPStatus(http.StatusBadRequest)
	}
	vectors := make([][]float32, len(embeddings))
	for i, emb := range embeddings {
		if len(emb) != dim {
			return nil, types.NewError(types.ErrInvalidRequest, "embeddings in batch have mixed dimensions").
				WithHTTPStatus(http.StatusBadRequest)
		}
		vec := Float64ToFloat32(emb)
		normalizeL2(vec)
		vectors[i] = vec
	}

	// 逐条追加：中途失败时已写入的记录仍可按 id 查询.
	ids := make([]int64, 0, len(chunks))
	for i, chunk := range chunks {
		id, err := e.meta.AppendChunk(ctx, chunk, vectors[i])
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index == nil {
		e.index = newFlatIndex(dim)
		e.state = indexLoaded
		e.logger.Info("index created", zap.Int("dim", dim))
	} else if e.index.Dim() != dim {
		// 维度不匹配：同步阻塞重建，元数据里新写入的记录会被一并纳入.
		e.logger.Warn("index dimension mismatch, rebuilding",
			zap.Int("index_dim", e.index.Dim()),
			zap.Int("incoming_dim", dim))
		if err := e.rebuildHoldingLock(ctx, dim); err != nil {
			return ids, err
		}
		return ids, nil
	}

	for i, id := range ids {
		if err := e.index.Add(id, vectors[i]); err != nil {
			return ids, types.NewError(types.ErrStoreUnavailable, "index update failed").
				WithCause(err).WithHTTPStatus(http.StatusServiceUnavailable)
		}
	}

	if err := e.index.SaveSnapshot(e.snapshotPath); err != nil {
		return ids, types.NewError(types.ErrStoreUnavailable, "persist index snapshot").
			WithCause(err).WithHTTPStatus(http.StatusServiceUnavailable)
	}

	e.logger.Info("chunks added",
		zap.Int("count", len(ids)),
		zap.Int("index_size", e.index.Size()))

	return ids, nil
}

// Search 归一化查询向量，从索引超额取回 max(5k, k) 个近邻（以索引总量为上界），
// 再按租户/文档过滤，凑满 k 个或取尽为止.
//
// 过滤严格发生在近邻排序之后：窄过滤条件下可能合法地返回少于 k 个结果,
// 这是有界召回行为而非缺陷。空索引返回空列表，从不报错.
func (e *VectorEngine) Search(ctx context.Context, queryVector []float64, k int, tenantID, docID string) ([]RetrievalCandidate, error) {
	if k <= 0 {
		return []RetrievalCandidate{}, nil
	}

	query := Float64ToFloat32(queryVector)
	normalizeL2(query)

	hits, err := e.searchIndex(query, k)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []RetrievalCandidate{}, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	byID, err := e.meta.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]RetrievalCandidate, 0, k)
	for _, h := range hits {
		chunk, ok := byID[h.ID]
		if !ok {
			continue
		}
		if tenantID != "" && chunk.TenantID != tenantID {
			continue
		}
		if docID != "" && chunk.DocID != docID {
			continue
		}
		results = append(results, RetrievalCandidate{
			Chunk: chunk,
			Score: h.Score,
			Stage: StageDense,
		})
		if len(results) >= k {
			break
		}
	}
	return results, nil
}

// searchIndex 在锁内超额取回内积最高的 max(5k, k) 个近邻.
// 查询向量维度与索引不符时返回错误而非穿透到索引内部：
// 索引侧无法像 AddChunks 那样靠重建自愈（坏的是查询，不是索引）.
func (e *VectorEngine) searchIndex(query []float32, k int) ([]indexHit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index == nil || e.index.Size() == 0 {
		return nil, nil
	}
	if len(query) != e.index.Dim() {
		return nil, types.NewError(types.ErrStoreUnavailable,
			fmt.Sprintf("query dimension %d does not match index dimension %d", len(query), e.index.Dim())).
			WithHTTPStatus(http.StatusServiceUnavailable)
	}

	overfetch := 5 * k
	if overfetch < k {
		overfetch = k
	}
	if overfetch > e.index.Size() {
		overfetch = e.index.Size()
	}
	return e.index.Search(query, overfetch), nil
}

// IndexSize 返回当前索引向量数（索引 Absent 时为 0）.
func (e *VectorEngine) IndexSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index == nil {
		return 0
	}
	return e.index.Size()
}

// rebuild 获取锁后全量重建.
func (e *VectorEngine) rebuild(ctx context.Context, dimHint int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildHoldingLock(ctx, dimHint)
}

// rebuildHoldingLock 从元数据全量扫描重建索引并重写快照.
// 调用方必须持有 e.mu。重建期间 state 为 Rebuilding，并发 Add/Search 被锁阻塞.
func (e *VectorEngine) rebuildHoldingLock(ctx context.Context, dimHint int) error {
	e.state = indexRebuilding
	e.logger.Info("rebuilding index from metadata store")

	var idx *flatIndex
	scanErr := e.meta.ScanVectors(ctx, func(id int64, vector []float32) error {
		if idx == nil {
			dim := len(vector)
			if dimHint > 0 {
				dim = dimHint
			}
			idx = newFlatIndex(dim)
		}
		if len(vector) != idx.Dim() {
			// 旧维度的记录在维度切换后不再可检索，跳过而非失败.
			e.logger.Warn("skipping chunk with stale dimension during rebuild",
				zap.Int64("id", id),
				zap.Int("dim", len(vector)))
			return nil
		}
		normalizeL2(vector)
		return idx.Add(id, vector)
	})
	if scanErr != nil {
		e.state = indexAbsent
		e.index = nil
		return scanErr
	}

	if idx == nil {
		// 元数据为空：索引保持 Absent.
		e.index = nil
		e.state = indexAbsent
		e.logger.Info("metadata store empty, index absent")
		return nil
	}

	if err := idx.SaveSnapshot(e.snapshotPath); err != nil {
		e.state = indexAbsent
		e.index = nil
		return types.NewError(types.ErrStoreUnavailable, "persist rebuilt snapshot").
			WithCause(err).WithHTTPStatus(http.StatusServiceUnavailable)
	}

	e.index = idx
	e.state = indexLoaded
	e.logger.Info("index rebuilt",
		zap.Int("size", idx.Size()),
		zap.Int("dim", idx.Dim()))
	return nil
}
