package schema

// Tag 是列的语义标签。
//
// 标签驱动整个输入路由：TabularInputBlock 按标签选择列并决定
// 每个分支走 embedding 还是透传，负采样按 ITEM 标签识别物品列，
// padding 按 SEQUENCE 标签识别序列列。
type Tag string

// 语义标签常量
const (
	TagCategorical Tag = "categorical" // 离散取值，走 embedding 表
	TagContinuous  Tag = "continuous"  // 连续取值，默认透传
	TagSequence    Tag = "sequence"    // 变长序列列（ragged）
	TagItem        Tag = "item"        // 物品侧特征
	TagItemID      Tag = "item_id"     // 物品主键
	TagUser        Tag = "user"        // 用户侧特征
	TagUserID      Tag = "user_id"     // 用户主键
	TagSession     Tag = "session"     // 会话侧特征
	TagSessionID   Tag = "session_id"  // 会话主键
	TagID          Tag = "id"          // 任意主键列
	TagTarget      Tag = "target"      // 监督信号列
	TagBinary      Tag = "binary"      // 二值列（点击/转化标签常用）
	TagText        Tag = "text"        // 文本列
)

func (t Tag) String() string {
	return string(t)
}
