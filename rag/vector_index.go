package rag

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// snapshotMagic 标识索引快照文件格式.
var snapshotMagic = [8]byte{'R', 'A', 'G', 'I', 'D', 'X', '0', '1'}

// flatIndex 内存平面向量索引：对已 L2 归一化的 float32 向量做暴力内积搜索.
// 以元数据行 id 为键。并发控制由持有它的 VectorEngine 负责.
type flatIndex struct {
	dim     int
	ids     []int64
	vectors [][]float32
}

// newFlatIndex 创建指定维度的空索引.
func newFlatIndex(dim int) *flatIndex {
	return &flatIndex{dim: dim}
}

// Dim 返回索引维度.
func (idx *flatIndex) Dim() int { return idx.dim }

// Size 返回已索引向量数.
func (idx *flatIndex) Size() int { return len(idx.ids) }

// Add 添加一个已归一化的向量.
func (idx *flatIndex) Add(id int64, vector []float32) error {
	if len(vector) != idx.dim {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(vector), idx.dim)
	}
	idx.ids = append(idx.ids, id)
	idx.vectors = append(idx.vectors, vector)
	return nil
}

// indexHit 一次近邻搜索命中.
type indexHit struct {
	ID    int64
	Score float64
}

// Search 返回与查询向量内积最高的 k 个 id，按分数降序；
// 分数相同时按插入顺序（即 id 写入顺序）稳定排序.
func (idx *flatIndex) Search(query []float32, k int) []indexHit {
	if len(idx.ids) == 0 || k <= 0 || len(query) != idx.dim {
		return []indexHit{}
	}
	if k > len(idx.ids) {
		k = len(idx.ids)
	}

	hits := make([]indexHit, len(idx.ids))
	for i, vec := range idx.vectors {
		var dot float64
		for j := range vec {
			dot += float64(vec[j]) * float64(query[j])
		}
		hits[i] = indexHit{ID: idx.ids[i], Score: dot}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits[:k]
}

// ====== 快照持久化 ======

// SaveSnapshot 将索引原子写入快照文件（写临时文件后重命名）.
// 布局：magic(8) | dim(uint32) | count(uint32) | count × (id int64 | dim × float32)，全部小端.
func (idx *flatIndex) SaveSnapshot(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}

	w := bufio.NewWriter(f)
	writeErr := func() error {
		if _, err := w.Write(snapshotMagic[:]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(idx.dim)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(idx.ids))); err != nil {
			return err
		}
		for i, id := range idx.ids {
			if err := binary.Write(w, binary.LittleEndian, id); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, idx.vectors[i]); err != nil {
				return err
			}
		}
		return w.Flush()
	}()
	if writeErr != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", writeErr)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// loadSnapshot 从快照文件加载索引.
// 文件缺失或损坏时返回错误，由调用方决定是否触发重建.
func loadSnapshot(path string) (*flatIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read snapshot magic: %w", err)
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("snapshot magic mismatch")
	}

	var dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read snapshot dimension: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read snapshot count: %w", err)
	}
	if dim == 0 {
		return nil, fmt.Errorf("snapshot has zero dimension")
	}

	idx := newFlatIndex(int(dim))
	for i := uint32(0); i < count; i++ {
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("read snapshot entry %d: %w", i, err)
		}
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("read snapshot vector %d: %w", i, err)
		}
		idx.ids = append(idx.ids, id)
		idx.vectors = append(idx.vectors, vec)
	}
	return idx, nil
}
