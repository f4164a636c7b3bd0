package schema

import (
	"testing"

	"github.com/rushteam/recblocks/core"
)

func sessionSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := New(
		NewColumn("user_id", DTypeInt, TagUserID, TagUser, TagCategorical, TagID).WithCardinality(1000),
		NewColumn("user_age", DTypeFloat, TagUser, TagContinuous),
		NewColumn("item_id", DTypeInt, TagItemID, TagItem, TagCategorical, TagID).WithCardinality(500),
		NewColumn("item_price", DTypeFloat, TagItem, TagContinuous),
		NewColumn("item_id_seq", DTypeInt, TagItem, TagItemID, TagCategorical, TagSequence).
			WithCardinality(500).WithValueCount(2, 20),
		NewColumn("click", DTypeInt, TagTarget, TagBinary),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNew_DuplicateColumn(t *testing.T) {
	_, err := New(
		NewColumn("item_id", DTypeInt, TagItem),
		NewColumn("item_id", DTypeInt, TagItem),
	)
	if err == nil {
		t.Fatal("New() with duplicate column expected error, got nil")
	}
	if !core.IsInvalidInput(err) {
		t.Errorf("New() error code = %v, want INVALID_INPUT", err)
	}
}

func TestNew_EmptyName(t *testing.T) {
	_, err := New(NewColumn("", DTypeFloat))
	if err == nil {
		t.Fatal("New() with empty column name expected error, got nil")
	}
}

func TestSchema_SelectByTag(t *testing.T) {
	s := sessionSchema(t)

	tests := []struct {
		name      string
		tags      []Tag
		wantNames []string
	}{
		{
			name:      "item columns",
			tags:      []Tag{TagItem},
			wantNames: []string{"item_id", "item_price", "item_id_seq"},
		},
		{
			name:      "continuous columns",
			tags:      []Tag{TagContinuous},
			wantNames: []string{"user_age", "item_price"},
		},
		{
			name:      "sequence columns",
			tags:      []Tag{TagSequence},
			wantNames: []string{"item_id_seq"},
		},
		{
			name:      "any of user or target",
			tags:      []Tag{TagUser, TagTarget},
			wantNames: []string{"user_id", "user_age", "click"},
		},
		{
			name:      "no match yields empty schema",
			tags:      []Tag{TagText},
			wantNames: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := s.SelectByTag(tt.tags...)
			got := sel.ColumnNames()
			if len(got) != len(tt.wantNames) {
				t.Fatalf("SelectByTag(%v) = %v, want %v", tt.tags, got, tt.wantNames)
			}
			for i, name := range tt.wantNames {
				if got[i] != name {
					t.Errorf("SelectByTag(%v)[%d] = %q, want %q", tt.tags, i, got[i], name)
				}
			}
		})
	}
}

func TestSchema_ExcludeByTag(t *testing.T) {
	s := sessionSchema(t)
	sel := s.ExcludeByTag(TagTarget)
	if sel.Has("click") {
		t.Error("ExcludeByTag(TagTarget) still contains click")
	}
	if sel.Len() != s.Len()-1 {
		t.Errorf("ExcludeByTag(TagTarget).Len() = %d, want %d", sel.Len(), s.Len()-1)
	}
}

func TestSchema_SelectByName(t *testing.T) {
	s := sessionSchema(t)
	sel := s.SelectByName("item_id", "no_such_column")
	if sel.Len() != 1 {
		t.Fatalf("SelectByName() len = %d, want 1", sel.Len())
	}
	if !sel.Has("item_id") {
		t.Error("SelectByName() missing item_id")
	}
}

func TestSchema_SelectionDoesNotMutate(t *testing.T) {
	s := sessionSchema(t)
	before := s.Len()
	_ = s.SelectByTag(TagItem)
	_ = s.ExcludeByTag(TagItem)
	if s.Len() != before {
		t.Errorf("selection mutated schema: len = %d, want %d", s.Len(), before)
	}
}

func TestColumn_WithTagsCopies(t *testing.T) {
	base := NewColumn("item_id", DTypeInt, TagItem)
	tagged := base.WithTags(TagCategorical, TagItem)

	if base.HasTag(TagCategorical) {
		t.Error("WithTags mutated the receiver")
	}
	if !tagged.HasTag(TagCategorical) {
		t.Error("WithTags result missing new tag")
	}
	// duplicate tags are folded
	count := 0
	for _, tg := range tagged.Tags {
		if tg == TagItem {
			count++
		}
	}
	if count != 1 {
		t.Errorf("TagItem appears %d times, want 1", count)
	}
}

func TestColumn_IsList(t *testing.T) {
	scalar := NewColumn("price", DTypeFloat, TagContinuous)
	seq := NewColumn("item_id_seq", DTypeInt, TagSequence).WithValueCount(2, 20)

	if scalar.IsList() {
		t.Error("scalar column reported as list")
	}
	if !seq.IsList() {
		t.Error("sequence column not reported as list")
	}
	if seq.ValueCount.Min != 2 || seq.ValueCount.Max != 20 {
		t.Errorf("ValueCount = %+v, want {2 20}", seq.ValueCount)
	}
}

func TestSchema_Add(t *testing.T) {
	s := sessionSchema(t)
	s2, err := s.Add(NewColumn("dwell_time", DTypeFloat, TagContinuous))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !s2.Has("dwell_time") {
		t.Error("Add() result missing new column")
	}
	if s.Has("dwell_time") {
		t.Error("Add() mutated the receiver")
	}

	if _, err := s.Add(NewColumn("item_id", DTypeInt)); err == nil {
		t.Error("Add() with duplicate name expected error, got nil")
	}
}

func TestNilSchemaIsEmpty(t *testing.T) {
	var s *Schema
	if s.Len() != 0 {
		t.Errorf("nil schema Len() = %d, want 0", s.Len())
	}
	if sel := s.SelectByTag(TagItem); sel.Len() != 0 {
		t.Errorf("nil schema SelectByTag len = %d, want 0", sel.Len())
	}
	if _, ok := s.Column("x"); ok {
		t.Error("nil schema Column() reported ok")
	}
}
