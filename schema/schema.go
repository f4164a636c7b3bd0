// Package schema 定义表格数据的列模式（schema）。
//
// Schema 是一组有序、名字唯一的列定义，模型组件不读数据本身，
// 只读 Schema 决定自己处理哪些列、怎么处理：
//   - 输入路由按标签选列（TabularInputBlock）
//   - padding 按 SEQUENCE 标签找序列列
//   - 负采样按 ITEM 标签找物品列
//
// Schema 的所有选择操作返回新 Schema，原 Schema 不受影响。
package schema

import (
	"github.com/rushteam/recblocks/core"
)

// Schema 是一组有序列定义，列名唯一。
// 零值不可直接使用，请通过 New 创建。
type Schema struct {
	columns []Column
	index   map[string]int
}

// New 创建 Schema。列名重复时返回 INVALID_INPUT 错误。
func New(cols ...Column) (*Schema, error) {
	s := &Schema{
		columns: make([]Column, 0, len(cols)),
		index:   make(map[string]int, len(cols)),
	}
	for _, c := range cols {
		if c.Name == "" {
			return nil, core.NewDomainError(core.ModuleSchema, core.ErrorCodeInvalidInput, "schema: column name must not be empty")
		}
		if _, ok := s.index[c.Name]; ok {
			return nil, core.DomainErrorf(core.ModuleSchema, core.ErrorCodeInvalidInput, "schema: duplicate column %q", c.Name)
		}
		s.index[c.Name] = len(s.columns)
		s.columns = append(s.columns, c.clone())
	}
	return s, nil
}

// MustNew 与 New 相同，出错时 panic。仅用于静态已知合法的场景（测试、示例）。
func MustNew(cols ...Column) *Schema {
	s, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len 返回列数。
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.columns)
}

// Columns 返回列定义的副本（按定义顺序）。
func (s *Schema) Columns() []Column {
	if s == nil {
		return nil
	}
	out := make([]Column, 0, len(s.columns))
	for _, c := range s.columns {
		out = append(out, c.clone())
	}
	return out
}

// ColumnNames 返回列名（按定义顺序）。
func (s *Schema) ColumnNames() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.columns))
	for _, c := range s.columns {
		out = append(out, c.Name)
	}
	return out
}

// Column 按名称查找列。
func (s *Schema) Column(name string) (Column, bool) {
	if s == nil {
		return Column{}, false
	}
	i, ok := s.index[name]
	if !ok {
		return Column{}, false
	}
	return s.columns[i].clone(), true
}

// Has 检查列是否存在。
func (s *Schema) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[name]
	return ok
}

// SelectByTag 返回带有任一指定标签的列组成的新 Schema。
func (s *Schema) SelectByTag(tags ...Tag) *Schema {
	return s.Filter(func(c Column) bool {
		return c.HasAnyTag(tags...)
	})
}

// ExcludeByTag 返回不带任何指定标签的列组成的新 Schema。
func (s *Schema) ExcludeByTag(tags ...Tag) *Schema {
	return s.Filter(func(c Column) bool {
		return !c.HasAnyTag(tags...)
	})
}

// SelectByName 返回指定名称的列组成的新 Schema（不存在的名称忽略）。
func (s *Schema) SelectByName(names ...string) *Schema {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	return s.Filter(func(c Column) bool {
		_, ok := want[c.Name]
		return ok
	})
}

// Filter 返回满足谓词的列组成的新 Schema。
func (s *Schema) Filter(pred func(Column) bool) *Schema {
	out := &Schema{index: make(map[string]int)}
	if s == nil {
		return out
	}
	for _, c := range s.columns {
		if pred(c) {
			out.index[c.Name] = len(out.columns)
			out.columns = append(out.columns, c.clone())
		}
	}
	return out
}

// Add 返回追加列后的新 Schema。与已有列重名时返回错误。
func (s *Schema) Add(cols ...Column) (*Schema, error) {
	merged := make([]Column, 0, s.Len()+len(cols))
	merged = append(merged, s.Columns()...)
	merged = append(merged, cols...)
	return New(merged...)
}
