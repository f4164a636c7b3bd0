package inputs

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
	"github.com/rushteam/recblocks/store"
)

func catColumn(name string, card int) schema.Column {
	return schema.NewColumn(name, schema.DTypeInt, schema.TagCategorical).WithCardinality(card)
}

func TestNewEmbeddingTable_PadRowIsZero(t *testing.T) {
	table, err := NewEmbeddingTable(catColumn("item_id", 10), 4, nil)
	if err != nil {
		t.Fatalf("NewEmbeddingTable() error = %v", err)
	}
	for d := 0; d < table.Dim; d++ {
		if v := table.Weights.At(PadIndex, d); v != 0 {
			t.Errorf("pad row weight[%d] = %v, want 0", d, v)
		}
	}
	// non-pad rows should carry the random init
	allZero := true
	for d := 0; d < table.Dim; d++ {
		if table.Weights.At(1, d) != 0 {
			allZero = false
		}
	}
	if allZero {
		t.Error("row 1 is all zero, expected random init")
	}
}

func TestNewEmbeddingTable_NeedsCardinality(t *testing.T) {
	col := schema.NewColumn("item_id", schema.DTypeInt, schema.TagCategorical)
	if _, err := NewEmbeddingTable(col, 4, nil); err == nil {
		t.Error("NewEmbeddingTable() without cardinality expected error, got nil")
	}
}

func TestEmbeddingTable_LookupBounds(t *testing.T) {
	table, err := NewEmbeddingTable(catColumn("item_id", 5), 2, nil)
	if err != nil {
		t.Fatalf("NewEmbeddingTable() error = %v", err)
	}

	if _, err := table.Lookup(mat.NewDense(1, 1, []float64{5})); !core.IsInvalidInput(err) {
		t.Errorf("Lookup(id=cardinality) error = %v, want INVALID_INPUT", err)
	}
	if _, err := table.Lookup(mat.NewDense(1, 1, []float64{-1})); !core.IsInvalidInput(err) {
		t.Errorf("Lookup(negative id) error = %v, want INVALID_INPUT", err)
	}
	if _, err := table.Lookup(mat.NewDense(1, 1, []float64{1.5})); !core.IsInvalidInput(err) {
		t.Errorf("Lookup(fractional id) error = %v, want INVALID_INPUT", err)
	}
}

func TestEmbeddingTable_LookupSeqPadIsZeroVector(t *testing.T) {
	table, err := NewEmbeddingTable(catColumn("item_id_seq", 10), 3, nil)
	if err != nil {
		t.Fatalf("NewEmbeddingTable() error = %v", err)
	}

	ids := mat.NewDense(2, 3, []float64{1, 2, 0, 3, 0, 0})
	out, err := table.LookupSeq(ids)
	if err != nil {
		t.Fatalf("LookupSeq() error = %v", err)
	}
	if out.Rows() != 2 || out.Steps != 3 || out.Dim() != 3 {
		t.Fatalf("LookupSeq() shape = (%d,%d,%d), want (2,3,3)", out.Rows(), out.Steps, out.Dim())
	}
	for d := 0; d < 3; d++ {
		if out.At(0, 2, d) != 0 {
			t.Errorf("pad step vector[%d] = %v, want 0", d, out.At(0, 2, d))
		}
	}
}

func TestEmbeddingTable_MeanCombiner(t *testing.T) {
	table, err := NewEmbeddingTable(catColumn("item_id_seq", 4), 2, nil)
	if err != nil {
		t.Fatalf("NewEmbeddingTable() error = %v", err)
	}
	// fixed weights for a deterministic check
	table.Weights.SetRow(1, []float64{1, 10})
	table.Weights.SetRow(2, []float64{3, 30})
	table.Weights.SetRow(3, []float64{5, 50})

	rg := batch.RaggedFromRows([][]float64{
		{1, 3},
		{2},
		{},
	})
	out, err := table.LookupCombined(batch.RaggedColumn(rg), CombinerMean)
	if err != nil {
		t.Fatalf("LookupCombined() error = %v", err)
	}

	if got := out.At(0, 0); math.Abs(got-3) > 1e-12 {
		t.Errorf("mean row 0 dim 0 = %v, want 3", got)
	}
	if got := out.At(0, 1); math.Abs(got-30) > 1e-12 {
		t.Errorf("mean row 0 dim 1 = %v, want 30", got)
	}
	if out.At(1, 0) != 3 || out.At(1, 1) != 30 {
		t.Error("single-element row should equal its embedding")
	}
	if out.At(2, 0) != 0 || out.At(2, 1) != 0 {
		t.Error("empty row should combine to the zero vector")
	}
}

func TestEmbeddingTable_CombinerSkipsPadIDs(t *testing.T) {
	table, err := NewEmbeddingTable(catColumn("item_id_seq", 4), 1, nil)
	if err != nil {
		t.Fatalf("NewEmbeddingTable() error = %v", err)
	}
	table.Weights.SetRow(1, []float64{4})
	table.Weights.SetRow(2, []float64{8})

	padded := mat.NewDense(1, 4, []float64{1, 2, 0, 0})
	out, err := table.LookupCombined(batch.DenseColumn(padded), CombinerMean)
	if err != nil {
		t.Fatalf("LookupCombined() error = %v", err)
	}
	// mean over the two valid ids only
	if got := out.At(0, 0); got != 6 {
		t.Errorf("mean with pads = %v, want 6", got)
	}

	last, err := table.LookupCombined(batch.DenseColumn(padded), CombinerLast)
	if err != nil {
		t.Fatalf("LookupCombined(last) error = %v", err)
	}
	if got := last.At(0, 0); got != 8 {
		t.Errorf("last combiner = %v, want 8 (last valid id)", got)
	}
}

func TestEmbeddingTables_Transform(t *testing.T) {
	s := schema.MustNew(
		catColumn("item_id", 10),
		catColumn("category", 6),
	)
	tables, err := NewEmbeddingTables(s, WithDim("item_id", 4), WithDim("category", 2), WithTablesSeed(7))
	if err != nil {
		t.Fatalf("NewEmbeddingTables() error = %v", err)
	}

	out, err := tables.Transform(context.Background(), batch.Columns{
		"item_id":  batch.ScalarColumn([]float64{1, 2}),
		"category": batch.ScalarColumn([]float64{3, 0}),
	})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}

	item, ok := out["item_id"].Dense()
	if !ok {
		t.Fatalf("item_id kind = %v, want dense", out["item_id"].Kind())
	}
	if _, w := item.Dims(); w != 4 {
		t.Errorf("item_id embedding dim = %d, want 4", w)
	}
	cat, _ := out["category"].Dense()
	if cat.At(1, 0) != 0 || cat.At(1, 1) != 0 {
		t.Error("pad id should embed to the zero vector")
	}
}

func TestEmbeddingTables_SingleStepSequence(t *testing.T) {
	s := schema.MustNew(
		schema.NewColumn("item_id_seq", schema.DTypeInt, schema.TagCategorical, schema.TagSequence).
			WithCardinality(10),
	)
	tables, err := NewEmbeddingTables(s, WithDim("item_id_seq", 3))
	if err != nil {
		t.Fatalf("NewEmbeddingTables() error = %v", err)
	}

	// padding 后恰好一步的序列列不能被当成标量 id 列
	out, err := tables.Transform(context.Background(), batch.Columns{
		"item_id_seq": batch.DenseColumn(mat.NewDense(2, 1, []float64{1, 2})),
	})
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	seq, ok := out["item_id_seq"].Seq()
	if !ok {
		t.Fatalf("item_id_seq kind = %v, want seq", out["item_id_seq"].Kind())
	}
	if seq.Rows() != 2 || seq.Steps != 1 || seq.Dim() != 3 {
		t.Errorf("shape = (%d,%d,%d), want (2,1,3)", seq.Rows(), seq.Steps, seq.Dim())
	}
}

func TestEmbeddingTables_UnknownColumn(t *testing.T) {
	s := schema.MustNew(catColumn("item_id", 10))
	tables, err := NewEmbeddingTables(s)
	if err != nil {
		t.Fatalf("NewEmbeddingTables() error = %v", err)
	}

	_, err = tables.Transform(context.Background(), batch.Columns{
		"unknown": batch.ScalarColumn([]float64{1}),
	})
	if err == nil {
		t.Error("Transform() with unknown column expected error, got nil")
	}
}

func TestEmbeddingTables_RaggedNeedsCombiner(t *testing.T) {
	s := schema.MustNew(catColumn("item_id_seq", 10))
	tables, err := NewEmbeddingTables(s) // no combiner
	if err != nil {
		t.Fatalf("NewEmbeddingTables() error = %v", err)
	}

	_, err = tables.Transform(context.Background(), batch.Columns{
		"item_id_seq": batch.RaggedColumn(batch.RaggedFromRows([][]float64{{1, 2}})),
	})
	if !core.IsInvalidInput(err) {
		t.Errorf("Transform(ragged, no combiner) error = %v, want INVALID_INPUT", err)
	}
}

func TestEmbeddingTables_LoadPretrained(t *testing.T) {
	s := schema.MustNew(catColumn("item_id", 4))
	tables, err := NewEmbeddingTables(s, WithDim("item_id", 2))
	if err != nil {
		t.Fatalf("NewEmbeddingTables() error = %v", err)
	}

	ms := store.NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	put := func(id string, vec []float64) {
		raw, _ := json.Marshal(vec)
		if err := ms.HSet(ctx, "emb:item_id", id, raw); err != nil {
			t.Fatalf("HSet() error = %v", err)
		}
	}
	put("1", []float64{0.5, -0.5})
	put("0", []float64{9, 9}) // pad row must be re-zeroed after load

	if err := tables.LoadPretrained(ctx, ms, "emb"); err != nil {
		t.Fatalf("LoadPretrained() error = %v", err)
	}

	table, _ := tables.Table("item_id")
	if table.Weights.At(1, 0) != 0.5 || table.Weights.At(1, 1) != -0.5 {
		t.Errorf("row 1 = [%v %v], want [0.5 -0.5]", table.Weights.At(1, 0), table.Weights.At(1, 1))
	}
	if table.Weights.At(0, 0) != 0 || table.Weights.At(0, 1) != 0 {
		t.Error("pad row not re-zeroed after pretrained load")
	}
}

func TestEmbeddingTables_LoadPretrainedErrors(t *testing.T) {
	s := schema.MustNew(catColumn("item_id", 4))
	tables, err := NewEmbeddingTables(s, WithDim("item_id", 2))
	if err != nil {
		t.Fatalf("NewEmbeddingTables() error = %v", err)
	}

	ms := store.NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	if err := ms.HSet(ctx, "emb:item_id", "99", []byte("[0.1,0.2]")); err != nil {
		t.Fatalf("HSet() error = %v", err)
	}
	if err := tables.LoadPretrained(ctx, ms, "emb"); !core.IsInvalidInput(err) {
		t.Errorf("LoadPretrained(out-of-range id) error = %v, want INVALID_INPUT", err)
	}

	ms2 := store.NewMemoryStore()
	defer ms2.Close()
	if err := ms2.HSet(ctx, "emb:item_id", "1", []byte("[0.1]")); err != nil {
		t.Fatalf("HSet() error = %v", err)
	}
	if err := tables.LoadPretrained(ctx, ms2, "emb"); !core.IsInvalidInput(err) {
		t.Errorf("LoadPretrained(dim mismatch) error = %v, want INVALID_INPUT", err)
	}
}

func TestDefaultEmbeddingDim(t *testing.T) {
	tests := []struct {
		cardinality int
		want        int
	}{
		{2, 8},       // tiny domains floor at 8
		{1000, 16},   // ceil(2*1000^0.25)=12 -> 16
		{100000, 40}, // ceil(2*100000^0.25)=36 -> 40
	}
	for _, tt := range tests {
		if got := defaultEmbeddingDim(tt.cardinality); got != tt.want {
			t.Errorf("defaultEmbeddingDim(%d) = %d, want %d", tt.cardinality, got, tt.want)
		}
	}
}
