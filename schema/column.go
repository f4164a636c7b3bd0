package schema

// DType 是列的元素类型。
type DType string

const (
	DTypeFloat  DType = "float"  // float64
	DTypeInt    DType = "int"    // 整数 id（载体仍为 float64）
	DTypeString DType = "string" // 字符串（经由字典映射为 id 后进入模型）
)

// ValueCount 描述列表列每行元素个数的上下界。
// Max == 0 表示标量列（每行一个值）。
type ValueCount struct {
	Min int
	Max int
}

// Column 是单列的元信息：名称、元素类型、语义标签与取值域。
//
// Column 是值类型，With* 方法返回修改后的副本，原值不变，
// 这样同一列可以安全地出现在多个 Schema 里。
type Column struct {
	Name        string
	DType       DType
	Tags        []Tag
	Cardinality int        // 离散域大小（0 表示未知；id 0 预留为 padding）
	ValueCount  ValueCount // 列表列的行内长度范围
}

// NewColumn 创建一个列定义。
func NewColumn(name string, dtype DType, tags ...Tag) Column {
	return Column{
		Name:  name,
		DType: dtype,
		Tags:  append([]Tag(nil), tags...),
	}
}

// HasTag 检查列是否带有指定标签。
func (c Column) HasTag(tag Tag) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAnyTag 检查列是否带有任一指定标签。
func (c Column) HasAnyTag(tags ...Tag) bool {
	for _, t := range tags {
		if c.HasTag(t) {
			return true
		}
	}
	return false
}

// IsList 报告该列是否为列表列（每行多个值）。
func (c Column) IsList() bool {
	return c.ValueCount.Max > 0
}

// WithTags 返回追加标签后的副本（重复标签去重）。
func (c Column) WithTags(tags ...Tag) Column {
	out := c.clone()
	for _, t := range tags {
		if !out.HasTag(t) {
			out.Tags = append(out.Tags, t)
		}
	}
	return out
}

// WithCardinality 返回设置离散域大小后的副本。
func (c Column) WithCardinality(n int) Column {
	out := c.clone()
	out.Cardinality = n
	return out
}

// WithValueCount 返回设置行内长度范围后的副本。
func (c Column) WithValueCount(min, max int) Column {
	out := c.clone()
	out.ValueCount = ValueCount{Min: min, Max: max}
	return out
}

func (c Column) clone() Column {
	out := c
	out.Tags = append([]Tag(nil), c.Tags...)
	return out
}
