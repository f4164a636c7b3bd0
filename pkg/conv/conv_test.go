package conv

import (
	"reflect"
	"testing"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   float64
		wantOK bool
	}{
		{name: "float64", in: 1.5, want: 1.5, wantOK: true},
		{name: "float32", in: float32(2), want: 2, wantOK: true},
		{name: "int", in: 7, want: 7, wantOK: true},
		{name: "int64", in: int64(8), want: 8, wantOK: true},
		{name: "int32", in: int32(9), want: 9, wantOK: true},
		{name: "bool true", in: true, want: 1, wantOK: true},
		{name: "bool false", in: false, want: 0, wantOK: true},
		{name: "string", in: "3.14", wantOK: false},
		{name: "nil", in: nil, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat64(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("ToFloat64(%v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMapToFloat64(t *testing.T) {
	got := MapToFloat64(map[string]any{
		"ctr":   0.42,
		"age":   int64(30),
		"city":  "beijing", // 不可转换，被跳过
		"click": true,
	})
	want := map[string]float64{"ctr": 0.42, "age": 30, "click": 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("MapToFloat64() = %v, want %v", got, want)
	}
	if MapToFloat64(nil) != nil {
		t.Fatal("MapToFloat64(nil) should stay nil")
	}
}

func TestConfigGet(t *testing.T) {
	m := map[string]any{"init": "defaults", "shards": 4, "auth": map[string]any{"type": "bearer"}}

	if got := ConfigGet(m, "init", ""); got != "defaults" {
		t.Fatalf(`ConfigGet("init") = %q`, got)
	}
	if got := ConfigGet(m, "missing", "fallback"); got != "fallback" {
		t.Fatalf(`ConfigGet("missing") = %q, want fallback`, got)
	}
	// 类型不符退回默认值
	if got := ConfigGet(m, "shards", "none"); got != "none" {
		t.Fatalf(`ConfigGet("shards") as string = %q, want none`, got)
	}
	if got := ConfigGet[map[string]any](m, "auth", nil); got == nil || got["type"] != "bearer" {
		t.Fatalf(`ConfigGet("auth") = %v`, got)
	}
	if got := ConfigGet(nil, "k", 3); got != 3 {
		t.Fatalf("ConfigGet(nil) = %v, want 3", got)
	}
}

func TestConfigGetInt64(t *testing.T) {
	tests := []struct {
		name string
		m    map[string]any
		want int64
	}{
		{name: "int", m: map[string]any{"n": 5}, want: 5},
		{name: "int64", m: map[string]any{"n": int64(6)}, want: 6},
		{name: "float64 from json", m: map[string]any{"n": 7.0}, want: 7},
		{name: "missing", m: map[string]any{}, want: -1},
		{name: "wrong type", m: map[string]any{"n": "8"}, want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConfigGetInt64(tt.m, "n", -1); got != tt.want {
				t.Fatalf("ConfigGetInt64() = %d, want %d", got, tt.want)
			}
		})
	}
}
