// Package style 只读的风格向量目录
package style

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"
)

// DefaultName 缺省风格
const DefaultName = "Neutral"

// Vector 风格向量
type Vector []float32

// Store 风格向量目录，加载后只读，可无锁并发访问
//
// 第 0 行为所有风格的均值，即中性风格
type Store struct {
	vecs  []Vector
	index map[string]int
	names []string
	def   int
	dim   int
}

// Load 读取 style_vectors.npy，style2id 为模型配置中的风格名到行号映射
func Load(path string, style2id map[string]int, defaultName string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("解析风格向量文件失败: %w", err)
	}
	shape := r.Header.Descr.Shape
	if len(shape) != 2 || shape[0] == 0 || shape[1] == 0 {
		return nil, fmt.Errorf("风格向量形状异常: %v", shape)
	}
	var data []float32
	if err := r.Read(&data); err != nil {
		return nil, fmt.Errorf("读取风格向量失败: %w", err)
	}

	rows, dim := shape[0], shape[1]
	if len(data) != rows*dim {
		return nil, fmt.Errorf("风格向量数据长度 %d 与形状 %v 不一致", len(data), shape)
	}
	vecs := make([][]float32, rows)
	for i := range vecs {
		vecs[i] = data[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return New(vecs, style2id, defaultName)
}

// New 从内存数据创建目录
func New(vecs [][]float32, style2id map[string]int, defaultName string) (*Store, error) {
	if len(vecs) == 0 {
		return nil, fmt.Errorf("风格向量为空")
	}
	dim := len(vecs[0])
	s := &Store{index: make(map[string]int, len(style2id)), dim: dim}
	for i, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("第 %d 个风格向量维度 %d 与 %d 不一致", i, len(v), dim)
		}
		s.vecs = append(s.vecs, Vector(v))
	}
	if len(style2id) == 0 {
		// 未配置风格名时以行号命名
		for i := range vecs {
			s.index[strconv.Itoa(i)] = i
		}
	}
	for name, id := range style2id {
		if id < 0 || id >= len(vecs) {
			return nil, fmt.Errorf("风格 %s 的行号 %d 超出范围 [0, %d)", name, id, len(vecs))
		}
		s.index[name] = id
	}
	for name := range s.index {
		s.names = append(s.names, name)
	}
	sort.Slice(s.names, func(i, j int) bool {
		a, b := s.index[s.names[i]], s.index[s.names[j]]
		if a != b {
			return a < b
		}
		return s.names[i] < s.names[j]
	})

	if defaultName == "" {
		defaultName = DefaultName
	}
	if id, ok := s.lookupIndex(defaultName); ok {
		s.def = id
	}
	return s, nil
}

func (s *Store) lookupIndex(name string) (int, bool) {
	if id, ok := s.index[name]; ok {
		return id, true
	}
	for k, id := range s.index {
		if strings.EqualFold(k, name) {
			return id, true
		}
	}
	return 0, false
}

// Dim 风格向量维度
func (s *Store) Dim() int { return s.dim }

// Names 按行号排序的风格名
func (s *Store) Names() []string {
	return append([]string(nil), s.names...)
}

// Has 风格是否存在
func (s *Store) Has(name string) bool {
	_, ok := s.lookupIndex(name)
	return ok
}

// Lookup 查找风格向量，不存在时返回缺省风格
func (s *Store) Lookup(name string) Vector {
	id, ok := s.lookupIndex(name)
	if !ok {
		id = s.def
	}
	return s.clone(id)
}

// Blend 按 ratio 线性插值两个风格，ratio 限制在 [0,1]
func (s *Store) Blend(a, b string, ratio float32) Vector {
	ratio = min(max(ratio, 0), 1)
	va, vb := s.Lookup(a), s.Lookup(b)
	for i := range va {
		va[i] = va[i]*(1-ratio) + vb[i]*ratio
	}
	return va
}

// Condition 以均值向量为中心按 weight 缩放风格强度
func (s *Store) Condition(v Vector, weight float32) Vector {
	mean := s.vecs[0]
	out := make(Vector, len(v))
	for i := range v {
		out[i] = mean[i] + (v[i]-mean[i])*weight
	}
	return out
}

func (s *Store) clone(id int) Vector {
	return append(Vector(nil), s.vecs[id]...)
}
