package serving

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/recblocks/batch"
	"github.com/rushteam/recblocks/core"
)

func seqTensor3(rows, steps, dim int) *batch.Tensor3 {
	t := batch.NewTensor3(rows, steps, dim)
	v := 1.0
	for r := 0; r < rows; r++ {
		for s := 0; s < steps; s++ {
			for d := 0; d < dim; d++ {
				t.Set(r, s, d, v)
				v++
			}
		}
	}
	return t
}

func TestTensorValueValidate(t *testing.T) {
	tests := []struct {
		name    string
		tensor  *TensorValue
		wantErr bool
	}{
		{"ok", &TensorValue{Shape: []int{2, 3}, Values: make([]float64, 6)}, false},
		{"empty shape", &TensorValue{Shape: nil, Values: []float64{1}}, true},
		{"negative dim", &TensorValue{Shape: []int{2, -1}, Values: nil}, true},
		{"numel mismatch", &TensorValue{Shape: []int{2, 3}, Values: make([]float64, 5)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tensor.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !core.IsInvalidInput(err) {
				t.Errorf("Validate() error = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestTensor3ValueRoundTrip(t *testing.T) {
	in := seqTensor3(2, 3, 2)

	v := Tensor3Value(in)
	if got, want := len(v.Shape), 3; got != want {
		t.Fatalf("Tensor3Value() shape ndim = %d, want %d", got, want)
	}
	if v.Shape[0] != 2 || v.Shape[1] != 3 || v.Shape[2] != 2 {
		t.Fatalf("Tensor3Value() shape = %v, want [2 3 2]", v.Shape)
	}
	if len(v.Values) != 12 || v.Values[0] != 1 || v.Values[11] != 12 {
		t.Fatalf("Tensor3Value() values = %v", v.Values)
	}

	out, err := Tensor3FromValue(v)
	if err != nil {
		t.Fatalf("Tensor3FromValue() error = %v", err)
	}
	for r := 0; r < 2; r++ {
		for s := 0; s < 3; s++ {
			for d := 0; d < 2; d++ {
				if out.At(r, s, d) != in.At(r, s, d) {
					t.Fatalf("round trip mismatch at (%d,%d,%d): got %v, want %v", r, s, d, out.At(r, s, d), in.At(r, s, d))
				}
			}
		}
	}
}

func TestTensor3FromValueWrongNDim(t *testing.T) {
	_, err := Tensor3FromValue(&TensorValue{Shape: []int{2, 3}, Values: make([]float64, 6)})
	if !core.IsInvalidInput(err) {
		t.Fatalf("Tensor3FromValue() error = %v, want INVALID_INPUT", err)
	}
}

func TestDenseValueRoundTrip(t *testing.T) {
	in := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})

	v := DenseValue(in)
	if v.Shape[0] != 2 || v.Shape[1] != 3 {
		t.Fatalf("DenseValue() shape = %v, want [2 3]", v.Shape)
	}

	out, err := DenseFromValue(v)
	if err != nil {
		t.Fatalf("DenseFromValue() error = %v", err)
	}
	if !mat.Equal(in, out) {
		t.Fatalf("round trip mismatch: got %v", mat.Formatted(out))
	}
}

func TestTensor3StackFromValue(t *testing.T) {
	v := &TensorValue{
		Shape:  []int{2, 1, 2, 3},
		Values: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
	}
	stack, err := Tensor3StackFromValue(v)
	if err != nil {
		t.Fatalf("Tensor3StackFromValue() error = %v", err)
	}
	if len(stack) != 2 {
		t.Fatalf("Tensor3StackFromValue() layers = %d, want 2", len(stack))
	}
	if got := stack[0].At(0, 1, 2); got != 6 {
		t.Errorf("layer 0 at (0,1,2) = %v, want 6", got)
	}
	if got := stack[1].At(0, 0, 0); got != 7 {
		t.Errorf("layer 1 at (0,0,0) = %v, want 7", got)
	}

	if _, err := Tensor3StackFromValue(&TensorValue{Shape: []int{2, 3}, Values: make([]float64, 6)}); !core.IsInvalidInput(err) {
		t.Fatalf("Tensor3StackFromValue() 2-d error = %v, want INVALID_INPUT", err)
	}
}

func TestInferRequestValidate(t *testing.T) {
	var empty *InferRequest
	if err := empty.Validate(); !core.IsInvalidInput(err) {
		t.Fatalf("Validate() nil request error = %v, want INVALID_INPUT", err)
	}

	bad := &InferRequest{Inputs: map[string]*TensorValue{
		TensorInputsEmbeds: {Shape: []int{2, 2}, Values: []float64{1}},
	}}
	if err := bad.Validate(); !core.IsInvalidInput(err) {
		t.Fatalf("Validate() bad tensor error = %v, want INVALID_INPUT", err)
	}

	ok := &InferRequest{Inputs: map[string]*TensorValue{
		TensorInputsEmbeds: {Shape: []int{1, 2, 2}, Values: []float64{1, 2, 3, 4}},
	}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
