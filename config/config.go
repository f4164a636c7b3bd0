// Package config 实现配置驱动的模型装配：YAML/JSON 里声明输入
// schema 和块列表，按注册表里的构建器装配出可运行的 Model。
//
// 内置块的注册在 config/builders 包的 init 中完成，使用配置驱动时
// 需在 main 或入口处 import _ "github.com/rushteam/recblocks/config/builders"。
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
)

// Config 是模型装配配置（支持 YAML/JSON）。
type Config struct {
	Model struct {
		Name   string        `yaml:"name" json:"name"`
		Schema SchemaConfig  `yaml:"schema" json:"schema"`
		Blocks []BlockConfig `yaml:"blocks" json:"blocks"`
	} `yaml:"model" json:"model"`
}

// SchemaConfig 描述输入 schema 的列集合。
type SchemaConfig struct {
	Columns []ColumnConfig `yaml:"columns" json:"columns"`
}

// ColumnConfig 是单列的配置。
type ColumnConfig struct {
	Name        string            `yaml:"name" json:"name"`
	DType       string            `yaml:"dtype,omitempty" json:"dtype,omitempty"` // float / int / string，缺省 float
	Tags        []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Cardinality int               `yaml:"cardinality,omitempty" json:"cardinality,omitempty"`
	ValueCount  *ValueCountConfig `yaml:"value_count,omitempty" json:"value_count,omitempty"`
}

// ValueCountConfig 是列表列每行元素个数的上下界。
type ValueCountConfig struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// BlockConfig 是单个块的配置。
type BlockConfig struct {
	Type   string                 `yaml:"type" json:"type"`     // transforms.padding / inputs.tabular / transformer.bert 等
	Config map[string]interface{} `yaml:"config" json:"config"` // 块特定配置
}

// LoadFromYAML 从 YAML 文件加载模型配置。
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	return &cfg, nil
}

// LoadFromJSON 从 JSON 文件加载模型配置。
func LoadFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	return &cfg, nil
}

// Build 把 SchemaConfig 转为 schema.Schema。
func (sc SchemaConfig) Build() (*schema.Schema, error) {
	if len(sc.Columns) == 0 {
		return nil, core.NewDomainError(core.ModuleConfig, core.ErrorCodeInvalidInput, "config: schema has no columns")
	}
	cols := make([]schema.Column, 0, len(sc.Columns))
	for _, cc := range sc.Columns {
		col, err := cc.Build()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	s, err := schema.New(cols...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Build 把 ColumnConfig 转为 schema.Column。
func (cc ColumnConfig) Build() (schema.Column, error) {
	if cc.Name == "" {
		return schema.Column{}, core.NewDomainError(core.ModuleConfig, core.ErrorCodeInvalidInput, "config: column has no name")
	}
	dtype, err := parseDType(cc.Name, cc.DType)
	if err != nil {
		return schema.Column{}, err
	}
	tags := make([]schema.Tag, 0, len(cc.Tags))
	for _, t := range cc.Tags {
		tags = append(tags, schema.Tag(t))
	}
	col := schema.NewColumn(cc.Name, dtype, tags...)
	if cc.Cardinality > 0 {
		col = col.WithCardinality(cc.Cardinality)
	}
	if cc.ValueCount != nil {
		col = col.WithValueCount(cc.ValueCount.Min, cc.ValueCount.Max)
	}
	return col, nil
}

func parseDType(column, dtype string) (schema.DType, error) {
	switch dtype {
	case "", string(schema.DTypeFloat):
		return schema.DTypeFloat, nil
	case string(schema.DTypeInt):
		return schema.DTypeInt, nil
	case string(schema.DTypeString):
		return schema.DTypeString, nil
	}
	return "", core.DomainErrorf(core.ModuleConfig, core.ErrorCodeNotSupported,
		"config: column %q has unknown dtype %q (supported: float, int, string)", column, dtype)
}

// SchemaConfigOf 把 schema.Schema 转回配置形式，
// 便于程序化生成配置或落盘。
func SchemaConfigOf(s *schema.Schema) SchemaConfig {
	cols := make([]ColumnConfig, 0, s.Len())
	for _, col := range s.Columns() {
		cc := ColumnConfig{
			Name:        col.Name,
			DType:       string(col.DType),
			Cardinality: col.Cardinality,
		}
		for _, t := range col.Tags {
			cc.Tags = append(cc.Tags, string(t))
		}
		if col.IsList() {
			cc.ValueCount = &ValueCountConfig{Min: col.ValueCount.Min, Max: col.ValueCount.Max}
		}
		cols = append(cols, cc)
	}
	return SchemaConfig{Columns: cols}
}
