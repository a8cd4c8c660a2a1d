package digest

import (
	"math"
	"testing"

	"github.com/maruel/kvstore/internal/value"
)

func TestStructural(t *testing.T) {
	t.Run("object order independent", func(t *testing.T) {
		a := value.Object{"a": value.Int(1), "b": value.Int(2)}
		b := value.Object{"b": value.Int(2), "a": value.Int(1)}
		if Structural(a) != Structural(b) {
			t.Error("Structural() differs for objects with the same entries")
		}
	})

	t.Run("array order sensitive", func(t *testing.T) {
		a := value.Array{value.Int(1), value.Int(2)}
		b := value.Array{value.Int(2), value.Int(1)}
		if Structural(a) == Structural(b) {
			t.Error("Structural([1,2]) == Structural([2,1])")
		}
	})

	t.Run("int and float differ", func(t *testing.T) {
		// Numerically identical numbers of different kinds land in
		// different buckets.
		if Structural(value.Int(1)) == Structural(value.Float(1)) {
			t.Error("Structural(Int(1)) == Structural(Float(1.0))")
		}
	})

	t.Run("nil is null", func(t *testing.T) {
		if Structural(nil) != Structural(value.Null{}) {
			t.Error("Structural(nil) != Structural(Null{})")
		}
	})

	t.Run("zero and NaN normalized", func(t *testing.T) {
		if Structural(value.Float(0)) != Structural(value.Float(math.Copysign(0, -1))) {
			t.Error("Structural(0.0) != Structural(-0.0)")
		}
		nan1 := value.Float(math.NaN())
		nan2 := value.Float(math.Float64frombits(0x7ff8000000000abc))
		if Structural(nan1) != Structural(nan2) {
			t.Error("NaN payloads hash differently")
		}
	})

	t.Run("distinct", func(t *testing.T) {
		vals := []value.Value{
			value.Null{},
			value.Bool(false),
			value.Bool(true),
			value.Int(0),
			value.Float(0),
			value.String(""),
			value.String("0"),
			value.Array{},
			value.Array{value.Null{}},
			value.Object{},
			value.Object{"": value.Null{}},
			value.Array{value.String("ab")},
			value.Array{value.String("a"), value.String("b")},
			value.Object{"a": value.String("b")},
			value.Object{"ab": value.String("")},
		}
		seen := map[uint64]int{}
		for i, v := range vals {
			h := Structural(v)
			if j, ok := seen[h]; ok {
				t.Errorf("Structural(%#v) collides with Structural(%#v)", v, vals[j])
			}
			seen[h] = i
		}
	})

	t.Run("stable", func(t *testing.T) {
		v := value.Object{"user": value.Object{"tags": value.Array{value.String("x")}}}
		if Structural(v) != Structural(value.Clone(v)) {
			t.Error("Structural() is not deterministic")
		}
	})
}

func TestRecords(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]value.Value
		want string
	}{
		{"empty", map[string]value.Value{}, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"single", map[string]value.Value{"k": value.String("v")}, "df97758b02b858afd89b35987b45bf5a8229fe99ca4ebe8a068625cd959530b8"},
		{"sorted with nested", map[string]value.Value{
			"b": value.Object{"x": value.Array{value.Int(1), value.Float(2.5)}},
			"a": value.Int(1),
		}, "33d71fd6004d60802f0e33fea82eb026d1b0667656cba54c09c22373dff3def6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Records(tt.in)
			if err != nil {
				t.Fatalf("Records() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Records() = %s, want %s", got, tt.want)
			}
		})
	}

	t.Run("content sensitive", func(t *testing.T) {
		a, _ := Records(map[string]value.Value{"k": value.Int(1)})
		b, _ := Records(map[string]value.Value{"k": value.Float(1)})
		if a == b {
			t.Error("Records() ignores the number kind")
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if _, err := Records(map[string]value.Value{"k": value.Float(math.Inf(1))}); err == nil {
			t.Error("Records(Inf) succeeded, want error")
		}
	})
}

func TestBytes(t *testing.T) {
	if got, want := Bytes([]byte("hello")), "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"; got != want {
		t.Errorf("Bytes() = %s, want %s", got, want)
	}
}
