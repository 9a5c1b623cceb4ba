package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *JSONStore[int] {
	t.Helper()
	s, err := NewJSONStore[int](filepath.Join(t.TempDir(), "doc.json"))
	require.NoError(t, err)
	return s
}

func TestJSONStore_NewCreatesEmptyArray(t *testing.T) {
	s := newTestStore(t)

	out, err := s.Read()
	require.NoError(t, err)
	require.Empty(t, out)

	raw, err := os.ReadFile(s.path)
	require.NoError(t, err)
	var arr []int
	require.NoError(t, json.Unmarshal(raw, &arr))
}

func TestJSONStore_UpdateReadModifyWrite(t *testing.T) {
	s := newTestStore(t)

	for i := 1; i <= 3; i++ {
		i := i
		require.NoError(t, s.Update(func(current []int) ([]int, error) {
			return append(current, i), nil
		}))
	}

	out, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, out)
}

// A reader racing a writer observes either the full previous state or the
// full new state, never partial bytes: every read parses and every parsed
// document is one of the values some Write call produced.
func TestJSONStore_ReadersNeverObservePartialWrites(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write([]int{0, 0, 0}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := 1; v <= 50; v++ {
			if err := s.Write([]int{v, v, v}); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		out, err := s.Read()
		require.NoError(t, err)
		require.Len(t, out, 3)
		require.Equal(t, out[0], out[1])
		require.Equal(t, out[1], out[2])
	}
	<-done
}

// A zero-byte file (the window between a writer's create and rename) is
// retried rather than failed immediately.
func TestJSONStore_ReadRetriesEmptyFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write([]int{7}))

	// Truncate the backing file directly, bypassing the store's lock, then
	// restore it while the reader is inside its retry loop.
	require.NoError(t, os.WriteFile(s.path, nil, 0o644))
	go func() {
		time.Sleep(250 * time.Millisecond)
		_ = os.WriteFile(s.path, []byte("[7]"), 0o644)
	}()

	out, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, []int{7}, out)
}

func TestJSONStore_ReadFailsAfterExhaustedRetries(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path, []byte("{not json"), 0o644))

	_, err := s.Read()
	require.Error(t, err)
}

func TestJSONStore_ConcurrentUpdatesAllLand(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(func(current []int) ([]int, error) {
				return append(current, i), nil
			})
		}()
	}
	wg.Wait()

	out, err := s.Read()
	require.NoError(t, err)
	require.Len(t, out, 10)
}
