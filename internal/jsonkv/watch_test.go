package jsonkv

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestWatch(t *testing.T) {
	t.Run("in-memory", func(t *testing.T) {
		if err := New().Watch(t.Context(), func(Change) {}); !errors.Is(err, ErrNotPersistent) {
			t.Errorf("Watch() error = %v, want ErrNotPersistent", err)
		}
	})

	t.Run("external write", func(t *testing.T) {
		s := openStore(t, Options{})
		ctx, cancel := context.WithCancel(t.Context())
		changes := make(chan Change, 16)
		done := make(chan error, 1)
		go func() {
			done <- s.Watch(ctx, func(c Change) {
				select {
				case changes <- c:
				default:
				}
			})
		}()

		// The watcher starts asynchronously; keep writing until it reports.
		timeout := time.After(10 * time.Second)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		var got Change
	loop:
		for {
			select {
			case got = <-changes:
				// A write may be observed half done; wait for a parsable state.
				if got.Valid {
					break loop
				}
			case <-ticker.C:
				if err := os.WriteFile(s.Path(), []byte(`{"external": true}`), 0o644); err != nil {
					t.Fatal(err)
				}
			case <-timeout:
				t.Fatal("no change reported")
			}
		}
		if got.Path != s.Path() {
			t.Errorf("Path = %s, want %s", got.Path, s.Path())
		}
		if got.Removed {
			t.Errorf("Change = %+v, want an update", got)
		}

		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Watch() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Watch() did not return after cancel")
		}
	})
}

func TestInspect(t *testing.T) {
	s := openStore(t, Options{})
	mustInsert(t, s, "k", nil)
	if _, ok := s.inspect(s.Path(), 0); ok {
		t.Error("inspect() reported the store's own save")
	}
	if err := os.WriteFile(s.Path(), []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if c, ok := s.inspect(s.Path(), 0); !ok || c.Valid {
		t.Errorf("inspect() = %+v, %v, want an invalid change", c, ok)
	}
	if err := os.Remove(s.Path()); err != nil {
		t.Fatal(err)
	}
	if c, ok := s.inspect(s.Path(), 0); !ok || !c.Removed {
		t.Errorf("inspect() = %+v, %v, want a removal", c, ok)
	}
}
