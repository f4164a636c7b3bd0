package transforms

import (
	"context"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/core"
	"github.com/rushteam/recblocks/schema"
)

func seqSchema(t *testing.T) *schema.Schema {
	t.Helper()
	return schema.MustNew(
		schema.NewColumn("item_id_seq", schema.DTypeInt, schema.TagItem, schema.TagItemID, schema.TagCategorical, schema.TagSequence).WithCardinality(100).WithValueCount(1, 10),
		schema.NewColumn("category_seq", schema.DTypeInt, schema.TagItem, schema.TagCategorical, schema.TagSequence).WithCardinality(20).WithValueCount(1, 10),
		schema.NewColumn("user_age", schema.DTypeFloat, schema.TagUser, schema.TagContinuous),
	)
}

func TestPadding_PreservesValuesAndZeroFills(t *testing.T) {
	p := NewPadding(seqSchema(t), WithMaxSequenceLength(5))

	rows := [][]float64{
		{10, 11, 12},
		{20},
		{30, 31},
	}
	b := batch.New(batch.Columns{
		"item_id_seq": batch.RaggedColumn(batch.RaggedFromRows(rows)),
	}, nil)

	out, err := p.Apply(context.Background(), b)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	m, ok := out.Features["item_id_seq"].Dense()
	if !ok {
		t.Fatalf("padded column kind = %v, want dense", out.Features["item_id_seq"].Kind())
	}
	r, w := m.Dims()
	if r != 3 || w != 5 {
		t.Fatalf("padded dims = (%d,%d), want (3,5)", r, w)
	}
	for i, row := range rows {
		for j := 0; j < w; j++ {
			want := 0.0
			if j < len(row) {
				want = row[j]
			}
			if got := m.At(i, j); got != want {
				t.Errorf("padded[%d][%d] = %v, want %v", i, j, got, want)
			}
		}
	}

	lengths := out.Sequences.Lengths["item_id_seq"]
	wantLengths := []int{3, 1, 2}
	for i, l := range wantLengths {
		if lengths[i] != l {
			t.Errorf("lengths[%d] = %d, want %d", i, lengths[i], l)
		}
	}
}

func TestPadding_InfersBatchMax(t *testing.T) {
	p := NewPadding(seqSchema(t))

	b := batch.New(batch.Columns{
		"item_id_seq": batch.RaggedColumn(batch.RaggedFromRows([][]float64{
			{1, 2, 3, 4},
			{5},
		})),
	}, nil)

	out, err := p.Apply(context.Background(), b)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	m, _ := out.Features["item_id_seq"].Dense()
	if _, w := m.Dims(); w != 4 {
		t.Errorf("inferred width = %d, want 4 (longest row)", w)
	}
}

func TestPadding_MismatchedLengthsFail(t *testing.T) {
	p := NewPadding(seqSchema(t))

	b := batch.New(batch.Columns{
		"item_id_seq":  batch.RaggedColumn(batch.RaggedFromRows([][]float64{{1, 2}, {3}})),
		"category_seq": batch.RaggedColumn(batch.RaggedFromRows([][]float64{{1}, {2}})),
	}, nil)

	_, err := p.Apply(context.Background(), b)
	if err == nil {
		t.Fatal("Apply() with mismatched row lengths expected error, got nil")
	}
	if !core.IsInvalidInput(err) {
		t.Errorf("Apply() error code = %v, want INVALID_INPUT", err)
	}
}

func TestPadding_ScalarPassThroughAndUnknownDrop(t *testing.T) {
	p := NewPadding(seqSchema(t), WithMaxSequenceLength(3))

	b := batch.New(batch.Columns{
		"item_id_seq": batch.RaggedColumn(batch.RaggedFromRows([][]float64{{1}, {2}})),
		"user_age":    batch.ScalarColumn([]float64{33, 41}),
		"not_in_schema": batch.RaggedColumn(batch.RaggedFromRows([][]float64{
			{9}, {8},
		})),
	}, nil)

	out, err := p.Apply(context.Background(), b)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if _, ok := out.Features["user_age"]; !ok {
		t.Error("scalar in-schema column dropped, want pass-through")
	}
	if _, ok := out.Features["not_in_schema"]; ok {
		t.Error("out-of-schema column kept, want dropped")
	}
	// out-of-schema ragged columns still contribute to the lengths map
	if _, ok := out.Sequences.Lengths["not_in_schema"]; !ok {
		t.Error("out-of-schema ragged column missing from lengths")
	}
}

func TestPadding_DenseSequenceColumn(t *testing.T) {
	p := NewPadding(seqSchema(t), WithMaxSequenceLength(4))

	// width-2 dense list feature, second row has one valid (non-zero) entry
	dense := mat.NewDense(2, 2, []float64{7, 8, 9, 0})
	b := batch.New(batch.Columns{
		"category_seq": batch.DenseColumn(dense),
	}, nil)

	out, err := p.Apply(context.Background(), b)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	m, _ := out.Features["category_seq"].Dense()
	if _, w := m.Dims(); w != 4 {
		t.Fatalf("padded width = %d, want 4", w)
	}
	if m.At(0, 0) != 7 || m.At(0, 1) != 8 || m.At(0, 2) != 0 {
		t.Error("dense sequence padding misplaced values")
	}

	lengths := out.Sequences.Lengths["category_seq"]
	if lengths[0] != 2 || lengths[1] != 1 {
		t.Errorf("dense lengths = %v, want [2 1]", lengths)
	}
}

func TestPadding_TruncatesBeyondMax(t *testing.T) {
	p := NewPadding(seqSchema(t), WithMaxSequenceLength(2))

	b := batch.New(batch.Columns{
		"item_id_seq": batch.RaggedColumn(batch.RaggedFromRows([][]float64{{1, 2, 3, 4}, {5}})),
	}, nil)

	out, err := p.Apply(context.Background(), b)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	m, _ := out.Features["item_id_seq"].Dense()
	if _, w := m.Dims(); w != 2 {
		t.Fatalf("width = %d, want 2", w)
	}
	if m.At(0, 0) != 1 || m.At(0, 1) != 2 {
		t.Error("truncation did not keep the leading elements")
	}
}

func TestPadding_SingleRowBypass(t *testing.T) {
	p := NewPadding(seqSchema(t), WithMaxSequenceLength(4))

	b := batch.New(batch.Columns{
		"item_id_seq": batch.RaggedColumn(batch.RaggedFromRows([][]float64{{6, 7}})),
	}, nil)

	out, err := p.Apply(context.Background(), b)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	m, _ := out.Features["item_id_seq"].Dense()
	r, w := m.Dims()
	if r != 1 || w != 4 {
		t.Fatalf("dims = (%d,%d), want (1,4)", r, w)
	}
	want := []float64{6, 7, 0, 0}
	for j, v := range want {
		if m.At(0, j) != v {
			t.Errorf("padded[0][%d] = %v, want %v", j, m.At(0, j), v)
		}
	}
}

func TestPadding_RaggedTargets(t *testing.T) {
	p := NewPadding(seqSchema(t), WithMaxSequenceLength(3))

	b := batch.New(
		batch.Columns{
			"item_id_seq": batch.RaggedColumn(batch.RaggedFromRows([][]float64{{1, 2}, {3}})),
		},
		batch.Columns{
			"next_items": batch.RaggedColumn(batch.RaggedFromRows([][]float64{{2, 3}, {4}})),
			"click":      batch.ScalarColumn([]float64{1, 0}),
		},
	)

	out, err := p.Apply(context.Background(), b)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	m, ok := out.Targets["next_items"].Dense()
	if !ok {
		t.Fatalf("ragged target kind = %v, want dense", out.Targets["next_items"].Kind())
	}
	if _, w := m.Dims(); w != 3 {
		t.Errorf("target width = %d, want 3", w)
	}
	if _, ok := out.Targets["click"].Dense(); !ok {
		t.Error("scalar target dropped, want pass-through")
	}
}

func TestPredictNext(t *testing.T) {
	s := seqSchema(t)
	pn, err := NewPredictNext(s)
	if err != nil {
		t.Fatalf("NewPredictNext() error = %v", err)
	}
	if pn.Name() != "predict_next" {
		t.Errorf("Name() = %q, want predict_next", pn.Name())
	}

	b := batch.New(batch.Columns{
		"item_id_seq":  batch.RaggedColumn(batch.RaggedFromRows([][]float64{{1, 2, 3}, {4, 5}})),
		"category_seq": batch.RaggedColumn(batch.RaggedFromRows([][]float64{{7, 7, 7}, {8, 8}})),
		"user_age":     batch.ScalarColumn([]float64{30, 40}),
	}, nil)

	out, err := pn.Apply(context.Background(), b)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	trimmed, _ := out.Features["item_id_seq"].Ragged()
	if got := trimmed.Row(0); len(got) != 2 || got[1] != 2 {
		t.Errorf("trimmed row 0 = %v, want [1 2]", got)
	}
	if got := trimmed.Row(1); len(got) != 1 || got[0] != 4 {
		t.Errorf("trimmed row 1 = %v, want [4]", got)
	}

	label, ok := out.Targets["item_id_seq"]
	if !ok {
		t.Fatal("Apply() produced no target column")
	}
	v0, _ := label.ScalarAt(0)
	v1, _ := label.ScalarAt(1)
	if v0 != 3 || v1 != 5 {
		t.Errorf("labels = [%v %v], want [3 5]", v0, v1)
	}

	if _, ok := out.Features["user_age"].Dense(); !ok {
		t.Error("non-sequence column dropped, want pass-through")
	}
}

func TestPredictNext_ShortRowFails(t *testing.T) {
	pn, err := NewPredictNext(seqSchema(t))
	if err != nil {
		t.Fatalf("NewPredictNext() error = %v", err)
	}

	b := batch.New(batch.Columns{
		"item_id_seq": batch.RaggedColumn(batch.RaggedFromRows([][]float64{{1}})),
	}, nil)

	_, err = pn.Apply(context.Background(), b)
	if err == nil {
		t.Fatal("Apply() with single-item row expected error, got nil")
	}
	if !core.IsInvalidInput(err) {
		t.Errorf("Apply() error code = %v, want INVALID_INPUT", err)
	}
}

func TestPredictNext_RequiresSequenceColumns(t *testing.T) {
	flat := schema.MustNew(
		schema.NewColumn("user_age", schema.DTypeFloat, schema.TagContinuous),
	)
	if _, err := NewPredictNext(flat); err == nil {
		t.Error("NewPredictNext() without sequence columns expected error, got nil")
	}
}
