package rag

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/ragflow/types"
)

// chunkRecord 是 chunks 表的持久化模型.
// 记录只追加，从不更新或删除；id 由 SQLite AUTOINCREMENT 分配.
type chunkRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	TenantID   string `gorm:"column:tenant_id;index:idx_chunks_tenant_doc"`
	DocID      string `gorm:"column:doc_id;index:idx_chunks_tenant_doc"`
	Source     string `gorm:"column:source"`
	ChunkIndex int    `gorm:"column:chunk_index"`
	Content    string `gorm:"column:content"`
	Embedding  []byte `gorm:"column:embedding"`
}

// TableName 指定表名.
func (chunkRecord) TableName() string { return "chunks" }

// MetadataStore 持久化的追加写入 chunk 记录存储.
type MetadataStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewMetadataStore 打开（必要时创建）SQLite 元数据库并确保表结构.
func NewMetadataStore(dbPath string, logger *zap.Logger) (*MetadataStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "open metadata store").
			WithCause(err).WithHTTPStatus(http.StatusServiceUnavailable)
	}
	if err := db.AutoMigrate(&chunkRecord{}); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "migrate metadata store").
			WithCause(err).WithHTTPStatus(http.StatusServiceUnavailable)
	}

	logger.Info("metadata store opened", zap.String("path", dbPath))

	return &MetadataStore{
		db:     db,
		logger: logger.With(zap.String("component", "metadata_store")),
	}, nil
}

// AppendChunk 追加单条 chunk 记录并返回分配的 id.
// 每条记录独立提交：批次中途失败不会丢失已写入的记录.
func (s *MetadataStore) AppendChunk(ctx context.Context, chunk Chunk, vector []float32) (int64, error) {
	rec := chunkRecord{
		TenantID:   chunk.TenantID,
		DocID:      chunk.DocID,
		Source:     chunk.Source,
		ChunkIndex: chunk.ChunkIndex,
		Content:    chunk.Content,
		Embedding:  encodeVector(vector),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, types.NewError(types.ErrStoreUnavailable, "append chunk").
			WithCause(err).WithHTTPStatus(http.StatusServiceUnavailable)
	}
	return rec.ID, nil
}

// GetByIDs 按 id 批量读取 chunk，返回 id → Chunk 映射（不含向量）.
func (s *MetadataStore) GetByIDs(ctx context.Context, ids []int64) (map[int64]Chunk, error) {
	if len(ids) == 0 {
		return map[int64]Chunk{}, nil
	}
	var recs []chunkRecord
	if err := s.db.WithContext(ctx).
		Select("id", "tenant_id", "doc_id", "source", "chunk_index", "content").
		Where("id IN ?", ids).
		Find(&recs).Error; err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "load chunks by id").
			WithCause(err).WithHTTPStatus(http.StatusServiceUnavailable)
	}
	out := make(map[int64]Chunk, len(recs))
	for _, r := range recs {
		out[r.ID] = Chunk{
			ID:         r.ID,
			TenantID:   r.TenantID,
			DocID:      r.DocID,
			Source:     r.Source,
			ChunkIndex: r.ChunkIndex,
			Content:    r.Content,
		}
	}
	return out, nil
}

// ScanVectors 按 id 升序遍历全部 (id, vector)，用于索引重建.
func (s *MetadataStore) ScanVectors(ctx context.Context, fn func(id int64, vector []float32) error) error {
	rows, err := s.db.WithContext(ctx).
		Model(&chunkRecord{}).
		Select("id", "embedding").
		Order("id ASC").
		Rows()
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "scan vectors").
			WithCause(err).WithHTTPStatus(http.StatusServiceUnavailable)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return types.NewError(types.ErrStoreUnavailable, "scan vector row").
				WithCause(err).WithHTTPStatus(http.StatusServiceUnavailable)
		}
		if err := fn(id, decodeVector(blob)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count 返回记录总数.
func (s *MetadataStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&chunkRecord{}).Count(&n).Error; err != nil {
		return 0, types.NewError(types.ErrStoreUnavailable, "count chunks").
			WithCause(err).WithHTTPStatus(http.StatusServiceUnavailable)
	}
	return n, nil
}

// Close 关闭底层数据库连接.
func (s *MetadataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
