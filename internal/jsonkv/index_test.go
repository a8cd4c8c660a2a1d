package jsonkv

import (
	"slices"
	"strconv"
	"testing"

	"github.com/maruel/kvstore/internal/digest"
	"github.com/maruel/kvstore/internal/value"
)

func TestIndex(t *testing.T) {
	t.Run("buckets", func(t *testing.T) {
		idx := newIndex("v", "")
		red := value.String("red")
		idx.add("a", red)
		idx.add("b", red)
		idx.add("a", red)
		idx.add("c", value.String("blue"))

		if got := idx.lookup(digest.Structural(red)); !slices.Equal(got, []string{"a", "b"}) {
			t.Errorf("lookup(red) = %v, want [a b]", got)
		}
		if got, want := idx.stats(), (IndexStats{UniqueHashes: 2, Entries: 3}); got != want {
			t.Errorf("stats() = %+v, want %+v", got, want)
		}

		idx.remove("a", red)
		if got := idx.lookup(digest.Structural(red)); !slices.Equal(got, []string{"b"}) {
			t.Errorf("lookup(red) = %v, want [b]", got)
		}
		idx.remove("b", red)
		if _, ok := idx.buckets[digest.Structural(red)]; ok {
			t.Error("empty bucket was kept")
		}
		idx.remove("zzz", red)
		if got := len(idx.hashes()); got != 1 {
			t.Errorf("hashes() = %d entries, want 1", got)
		}
	})

	t.Run("lookup returns a copy", func(t *testing.T) {
		idx := newIndex("v", "")
		idx.add("a", value.Int(1))
		got := idx.lookup(digest.Structural(value.Int(1)))
		got[0] = "changed"
		if again := idx.lookup(digest.Structural(value.Int(1))); again[0] != "a" {
			t.Errorf("lookup() exposes internal state: %v", again)
		}
	})

	t.Run("field", func(t *testing.T) {
		idx := newIndex("by_name", "user.name")
		idx.add("ann", value.Object{"user": value.Object{"name": value.String("Ann")}})
		idx.add("anon", value.Object{"user": value.Object{}})
		idx.add("scalar", value.Int(3))
		if got := idx.stats(); got.Entries != 1 {
			t.Errorf("stats() = %+v, want a single entry", got)
		}
		if got := idx.lookup(digest.Structural(value.String("Ann"))); !slices.Equal(got, []string{"ann"}) {
			t.Errorf("lookup(Ann) = %v, want [ann]", got)
		}
		if idx.Name() != "by_name" || idx.Field() != "user.name" {
			t.Errorf("Name(), Field() = %q, %q", idx.Name(), idx.Field())
		}
	})

	t.Run("rebuild", func(t *testing.T) {
		idx := newIndex("v", "")
		idx.add("stale", value.Null{})
		idx.rebuild(map[string]value.Value{"b": value.Int(1), "a": value.Int(1)})
		if got := idx.lookup(digest.Structural(value.Int(1))); !slices.Equal(got, []string{"a", "b"}) {
			t.Errorf("lookup(1) = %v, want [a b]", got)
		}
		if got := idx.lookup(digest.Structural(value.Null{})); len(got) != 0 {
			t.Errorf("stale entry survived rebuild: %v", got)
		}
	})

	t.Run("encode", func(t *testing.T) {
		idx := newIndex("v", "")
		idx.add("k", value.Bool(true))
		h := strconv.FormatUint(digest.Structural(value.Bool(true)), 10)
		pretty, sum, err := idx.encode()
		if err != nil {
			t.Fatal(err)
		}
		if want := "{\n  \"" + h + "\": [\n    \"k\"\n  ]\n}\n"; string(pretty) != want {
			t.Errorf("encode() = %q, want %q", pretty, want)
		}
		if want := digest.Bytes([]byte(`{"` + h + `":["k"]}`)); sum != want {
			t.Errorf("encode() digest = %s, want %s", sum, want)
		}
	})
}

func TestCheckIndexName(t *testing.T) {
	for name, want := range map[string]bool{
		"":        false,
		"a/b":     false,
		`a\b`:     false,
		".hidden": false,
		"..":      false,
		"by-name": true,
		"v1.2":    true,
	} {
		if got := checkIndexName(name); got != want {
			t.Errorf("checkIndexName(%q) = %v, want %v", name, got, want)
		}
	}
}
