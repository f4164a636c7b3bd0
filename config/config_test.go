package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/blocks"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
)

func TestColumnConfigBuild(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ColumnConfig
		wantErr func(error) bool
		check   func(t *testing.T, col schema.Column)
	}{
		{
			name: "categorical with cardinality",
			cfg: ColumnConfig{
				Name:        "item_id",
				DType:       "int",
				Tags:        []string{"categorical", "item", "item_id"},
				Cardinality: 1000,
			},
			check: func(t *testing.T, col schema.Column) {
				if col.DType != schema.DTypeInt {
					t.Fatalf("DType = %q, want int", col.DType)
				}
				if !col.HasTag(schema.TagItemID) {
					t.Fatalf("column should carry the item_id tag, got %v", col.Tags)
				}
				if col.Cardinality != 1000 {
					t.Fatalf("Cardinality = %d, want 1000", col.Cardinality)
				}
			},
		},
		{
			name: "empty dtype defaults to float",
			cfg:  ColumnConfig{Name: "user_age"},
			check: func(t *testing.T, col schema.Column) {
				if col.DType != schema.DTypeFloat {
					t.Fatalf("DType = %q, want float", col.DType)
				}
			},
		},
		{
			name: "value count makes a list column",
			cfg: ColumnConfig{
				Name:       "item_id_seq",
				DType:      "int",
				Tags:       []string{"categorical", "sequence"},
				ValueCount: &ValueCountConfig{Min: 2, Max: 20},
			},
			check: func(t *testing.T, col schema.Column) {
				if !col.IsList() {
					t.Fatal("column should be a list column")
				}
				if col.ValueCount.Min != 2 || col.ValueCount.Max != 20 {
					t.Fatalf("ValueCount = %+v, want {2 20}", col.ValueCount)
				}
			},
		},
		{
			name:    "missing name",
			cfg:     ColumnConfig{DType: "float"},
			wantErr: core.IsInvalidInput,
		},
		{
			name:    "unknown dtype",
			cfg:     ColumnConfig{Name: "x", DType: "complex128"},
			wantErr: core.IsNotSupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col, err := tt.cfg.Build()
			if tt.wantErr != nil {
				if err == nil || !tt.wantErr(err) {
					t.Fatalf("Build() error = %v, want domain error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			tt.check(t, col)
		})
	}
}

func TestSchemaConfigRoundTripYAML(t *testing.T) {
	orig := schema.MustNew(
		schema.NewColumn("item_id_seq", schema.DTypeInt,
			schema.TagCategorical, schema.TagItem, schema.TagItemID, schema.TagSequence).
			WithCardinality(1000).WithValueCount(2, 20),
		schema.NewColumn("user_age", schema.DTypeFloat, schema.TagContinuous, schema.TagUser),
		schema.NewColumn("click", schema.DTypeInt, schema.TagBinary, schema.TagTarget),
	)

	data, err := yaml.Marshal(SchemaConfigOf(orig))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var parsed SchemaConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	got, err := parsed.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got.Len() != orig.Len() {
		t.Fatalf("round trip has %d columns, want %d", got.Len(), orig.Len())
	}
	for _, want := range orig.Columns() {
		col, ok := got.Column(want.Name)
		if !ok {
			t.Fatalf("round trip lost column %q", want.Name)
		}
		if col.DType != want.DType {
			t.Fatalf("column %q DType = %q, want %q", want.Name, col.DType, want.DType)
		}
		if !reflect.DeepEqual(col.Tags, want.Tags) {
			t.Fatalf("column %q Tags = %v, want %v", want.Name, col.Tags, want.Tags)
		}
		if col.Cardinality != want.Cardinality {
			t.Fatalf("column %q Cardinality = %d, want %d", want.Name, col.Cardinality, want.Cardinality)
		}
		if col.ValueCount != want.ValueCount {
			t.Fatalf("column %q ValueCount = %+v, want %+v", want.Name, col.ValueCount, want.ValueCount)
		}
	}
}

// markOp 往批里加一个以自己名字命名的标记列。
type markOp struct {
	name string
	fail error
}

func (m *markOp) Name() string { return m.name }

func (m *markOp) Apply(ctx context.Context, b *batch.Batch) (*batch.Batch, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	rows, err := b.Rows()
	if err != nil {
		return nil, err
	}
	features := make(batch.Columns, len(b.Features)+1)
	for k, v := range b.Features {
		features[k] = v
	}
	features[m.name] = batch.ScalarColumn(make([]float64, rows))
	return batch.New(features, b.Targets), nil
}

var _ blocks.BatchOp = (*markOp)(nil)

func registerMarkOp(typeName string, fail error) {
	Register(typeName, func(s *schema.Schema, cfg map[string]interface{}) (blocks.BatchOp, error) {
		return &markOp{name: typeName, fail: fail}, nil
	})
}

func testConfig(blockTypes ...string) *Config {
	cfg := &Config{}
	cfg.Model.Name = "test_model"
	cfg.Model.Schema = SchemaConfig{Columns: []ColumnConfig{
		{Name: "user_age", DType: "float", Tags: []string{"continuous"}},
	}}
	for _, bt := range blockTypes {
		cfg.Model.Blocks = append(cfg.Model.Blocks, BlockConfig{Type: bt})
	}
	return cfg
}

func TestValidateUnknownType(t *testing.T) {
	registerMarkOp("test.noop", nil)

	err := testConfig("test.unknown").Validate()
	if !core.IsNotFound(err) {
		t.Fatalf("Validate() error = %v, want NOT_FOUND", err)
	}
	if !strings.Contains(err.Error(), "test.noop") {
		t.Fatalf("error should list supported types, got: %v", err)
	}
	if !strings.Contains(err.Error(), `unsupported block type "test.unknown"`) {
		t.Fatalf("error should name the unknown type, got: %v", err)
	}

	if err := testConfig("test.noop").Validate(); err != nil {
		t.Fatalf("Validate() error = %v for a registered type", err)
	}
	if err := testConfig("").Validate(); !core.IsInvalidInput(err) {
		t.Fatalf("Validate() error = %v for an empty type, want INVALID_INPUT", err)
	}
}

func TestBuildModelRun(t *testing.T) {
	registerMarkOp("test.mark_a", nil)
	registerMarkOp("test.mark_b", nil)

	model, err := testConfig("test.mark_a", "test.mark_b").BuildModel()
	if err != nil {
		t.Fatalf("BuildModel() error = %v", err)
	}
	if model.Name != "test_model" {
		t.Fatalf("Name = %q, want test_model", model.Name)
	}
	if model.Schema.Len() != 1 {
		t.Fatalf("Schema.Len() = %d, want 1", model.Schema.Len())
	}
	if len(model.Ops) != 2 {
		t.Fatalf("len(Ops) = %d, want 2", len(model.Ops))
	}

	in := batch.New(batch.Columns{
		"user_age": batch.ScalarColumn([]float64{0.3, 0.7}),
	}, nil)
	out, err := model.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, name := range []string{"user_age", "test.mark_a", "test.mark_b"} {
		if _, ok := out.Features[name]; !ok {
			t.Fatalf("output batch missing column %q", name)
		}
	}
}

func TestModelRunPropagatesCode(t *testing.T) {
	failErr := core.NewDomainError(core.ModuleBatch, core.ErrorCodeInvalidInput, "boom")
	registerMarkOp("test.fail", failErr)

	model, err := testConfig("test.fail").BuildModel()
	if err != nil {
		t.Fatalf("BuildModel() error = %v", err)
	}
	in := batch.New(batch.Columns{"user_age": batch.ScalarColumn([]float64{1})}, nil)
	_, err = model.Run(context.Background(), in)
	if !core.IsInvalidInput(err) {
		t.Fatalf("Run() error = %v, want the inner INVALID_INPUT code preserved", err)
	}
	if !strings.Contains(err.Error(), "test.fail") {
		t.Fatalf("error should name the failing block, got: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	text := `
model:
  name: session_bert
  schema:
    columns:
      - name: item_id_seq
        dtype: int
        tags: [categorical, item, item_id, sequence]
        cardinality: 1000
        value_count: {min: 2, max: 20}
      - name: user_age
        dtype: float
        tags: [continuous]
  blocks:
    - type: transforms.padding
      config:
        max_sequence_length: 20
    - type: inputs.tabular
      config:
        aggregation: concat
`
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadFromYAML(path)
	if err != nil {
		t.Fatalf("LoadFromYAML() error = %v", err)
	}
	if cfg.Model.Name != "session_bert" {
		t.Fatalf("Name = %q, want session_bert", cfg.Model.Name)
	}
	if len(cfg.Model.Schema.Columns) != 2 {
		t.Fatalf("len(Columns) = %d, want 2", len(cfg.Model.Schema.Columns))
	}
	seq := cfg.Model.Schema.Columns[0]
	if seq.ValueCount == nil || seq.ValueCount.Max != 20 {
		t.Fatalf("ValueCount = %+v, want max 20", seq.ValueCount)
	}
	if len(cfg.Model.Blocks) != 2 {
		t.Fatalf("len(Blocks) = %d, want 2", len(cfg.Model.Blocks))
	}
	if cfg.Model.Blocks[0].Type != "transforms.padding" {
		t.Fatalf("Blocks[0].Type = %q", cfg.Model.Blocks[0].Type)
	}
	if got := cfg.Model.Blocks[1].Config["aggregation"]; got != "concat" {
		t.Fatalf(`Config["aggregation"] = %v, want "concat"`, got)
	}

	if _, err := LoadFromYAML(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFromYAML() should fail for a missing file")
	}
}

func TestLoadFromJSON(t *testing.T) {
	text := `{
  "model": {
    "name": "flat_ranker",
    "schema": {"columns": [{"name": "user_age", "dtype": "float", "tags": ["continuous"]}]},
    "blocks": [{"type": "inputs.tabular", "config": {"init": "defaults"}}]
  }
}`
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadFromJSON(path)
	if err != nil {
		t.Fatalf("LoadFromJSON() error = %v", err)
	}
	if cfg.Model.Name != "flat_ranker" {
		t.Fatalf("Name = %q, want flat_ranker", cfg.Model.Name)
	}
	if got := cfg.Model.Blocks[0].Config["init"]; got != "defaults" {
		t.Fatalf(`Config["init"] = %v, want "defaults"`, got)
	}
}
