package rag

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestFloat32ToFloat64(t *testing.T) {
	tests := []struct {
		name  string
		input []float32
		want  []float64
	}{
		{name: "nil 输入返回 nil", input: nil, want: nil},
		{name: "空切片", input: []float32{}, want: []float64{}},
		{name: "单元素", input: []float32{1.5}, want: []float64{1.5}},
		{name: "多元素含精度损失", input: []float32{0.1, 0.2}, want: []float64{0.10000000149011612, 0.20000000298023224}},
		{name: "负值", input: []float32{-3.25, 0, 2}, want: []float64{-3.25, 0, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Float32ToFloat64(tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFloat64ToFloat32(t *testing.T) {
	tests := []struct {
		name  string
		input []float64
		want  []float32
	}{
		{name: "nil 输入返回 nil", input: nil, want: nil},
		{name: "空切片", input: []float64{}, want: []float32{}},
		{name: "单元素", input: []float64{1.5}, want: []float32{1.5}},
		{name: "负值", input: []float64{-0.5, 4}, want: []float32{-0.5, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Float64ToFloat32(tt.input)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProperty_Float32Float64_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 100).Draw(rt, "length")
		v := make([]float32, n)
		for i := range v {
			v[i] = float32(rapid.Float64Range(-1e6, 1e6).Draw(rt, "element"))
		}

		back := Float64ToFloat32(Float32ToFloat64(v))
		assert.Equal(rt, v, back)
	})
}

func TestProperty_EncodeDecode_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 64).Draw(rt, "length")
		v := make([]float32, n)
		for i := range v {
			v[i] = float32(rapid.Float64Range(-100, 100).Draw(rt, "element"))
		}

		data := encodeVector(v)
		assert.Len(rt, data, 4*n)
		assert.Equal(rt, v, decodeVector(data))
	})
}

func TestDecodeVector_TruncatedTail(t *testing.T) {
	data := encodeVector([]float32{1, 2, 3})
	// 末尾不足 4 字节的部分被忽略
	got := decodeVector(data[:len(data)-2])
	assert.Equal(t, []float32{1, 2}, got)
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	normalizeL2(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestNormalizeL2_ZeroVectorUnchanged(t *testing.T) {
	v := []float32{0, 0, 0}
	normalizeL2(v)
	assert.Equal(t, []float32{0, 0, 0}, v)
}
