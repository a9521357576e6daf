package testing

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/ValentinKolb/fKV/lib/store"
)

// StoreFactory creates a new store instance bound to the given backing
// path with the given defaults. The suite calls it multiple times on the
// same path to simulate independent store instances.
type StoreFactory func(path string, defaults map[string]any) (store.IStore, error)

// RunStoreTests runs a conformance test suite for an IStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Defaults", func(t *testing.T) {
			testDefaults(t, factory)
		})

		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory)
		})

		t.Run("SetDefault", func(t *testing.T) {
			testSetDefault(t, factory)
		})

		t.Run("Update", func(t *testing.T) {
			testUpdate(t, factory)
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory)
		})

		t.Run("MappingQueries", func(t *testing.T) {
			testMappingQueries(t, factory)
		})

		t.Run("RoundTrip", func(t *testing.T) {
			testRoundTrip(t, factory)
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "store.json")
}

func mustGet(t *testing.T, s store.IStore, key string) json.RawMessage {
	t.Helper()
	value, ok, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if !ok {
		t.Fatalf("Expected key %q to exist", key)
	}
	return value
}

// assertJSONEqual compares semantically: the document may be stored
// indented, so raw bytes of the same value can differ between writes.
func assertJSONEqual(t *testing.T, key string, got json.RawMessage, want any) {
	t.Helper()

	wantRaw, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("Failed to marshal expectation for %q: %v", key, err)
	}

	var gotVal, wantVal any
	if err := json.Unmarshal(got, &gotVal); err != nil {
		t.Fatalf("Key %q: stored value is not valid JSON: %v", key, err)
	}
	if err := json.Unmarshal(wantRaw, &wantVal); err != nil {
		t.Fatalf("Key %q: expectation is not valid JSON: %v", key, err)
	}

	if !reflect.DeepEqual(gotVal, wantVal) {
		t.Errorf("Key %q: expected %s, got %s", key, wantRaw, got)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testDefaults(t *testing.T, factory StoreFactory) {
	path := storePath(t)

	s, err := factory(path, map[string]any{"foo": "bar"})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	assertJSONEqual(t, "foo", mustGet(t, s, "foo"), "bar")

	// A fresh instance without defaults must see the persisted default.
	fresh, err := factory(path, nil)
	if err != nil {
		t.Fatalf("Failed to create fresh store: %v", err)
	}
	assertJSONEqual(t, "foo", mustGet(t, fresh, "foo"), "bar")

	// Defaults apply only at first contact: once the document exists they
	// neither overwrite nor backfill.
	if err := s.Set("foo", "changed"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	again, err := factory(path, map[string]any{"foo": "bar", "extra": 1})
	if err != nil {
		t.Fatalf("Failed to re-create store with defaults: %v", err)
	}
	assertJSONEqual(t, "foo", mustGet(t, again, "foo"), "changed")
	if ok, _ := again.Has("extra"); ok {
		t.Error("Expected defaults to not backfill an existing document")
	}

	// A deleted default key stays deleted across later mutations.
	if err := again.Delete("foo"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := again.Set("other", 1); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ok, _ := again.Has("foo"); ok {
		t.Error("Expected deleted default key to stay deleted after an unrelated mutation")
	}
}

func testSetGet(t *testing.T, factory StoreFactory) {
	s, err := factory(storePath(t), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	values := map[string]any{
		"string": "value",
		"int":    42,
		"float":  3.5,
		"bool":   true,
		"null":   nil,
		"list":   []any{"a", float64(1), false},
		"nested": map[string]any{"inner": "value"},
	}

	for key, value := range values {
		if err := s.Set(key, value); err != nil {
			t.Fatalf("Set(%q) failed: %v", key, err)
		}
	}
	for key, value := range values {
		assertJSONEqual(t, key, mustGet(t, s, key), value)
	}

	if _, ok, err := s.Get("nonexistent"); err != nil || ok {
		t.Errorf("Expected nonexistent key to return ok=false, err=nil, got ok=%v err=%v", ok, err)
	}

	// Unserializable values must be rejected without corrupting state.
	if err := s.Set("bad", make(chan int)); err == nil {
		t.Error("Expected Set of unserializable value to fail")
	}
	if ok, _ := s.Has("bad"); ok {
		t.Error("Expected failed Set to leave no trace")
	}
}

func testSetDefault(t *testing.T, factory StoreFactory) {
	s, err := factory(storePath(t), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := s.SetDefault("key", "first"); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	assertJSONEqual(t, "key", mustGet(t, s, "key"), "first")

	if err := s.SetDefault("key", "second"); err != nil {
		t.Fatalf("SetDefault on existing key failed: %v", err)
	}
	assertJSONEqual(t, "key", mustGet(t, s, "key"), "first")
}

func testUpdate(t *testing.T, factory StoreFactory) {
	s, err := factory(storePath(t), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := s.Set("existing", "old"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	err = s.Update(map[string]any{
		"existing": "new",
		"added":    7,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	assertJSONEqual(t, "existing", mustGet(t, s, "existing"), "new")
	assertJSONEqual(t, "added", mustGet(t, s, "added"), 7)
}

func testDelete(t *testing.T, factory StoreFactory) {
	s, err := factory(storePath(t), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := s.Set("key", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Delete("key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := s.Has("key"); ok {
		t.Error("Expected key to be gone after Delete")
	}

	// Deleting an absent key is a no-op.
	if err := s.Delete("nonexistent"); err != nil {
		t.Errorf("Expected Delete of absent key to succeed: %v", err)
	}
}

func testMappingQueries(t *testing.T, factory StoreFactory) {
	s, err := factory(storePath(t), nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	wantKeys := []string{"a", "b", "c"}
	for i, key := range wantKeys {
		if err := s.Set(key, i); err != nil {
			t.Fatalf("Set(%q) failed: %v", key, err)
		}
	}

	if got := s.Len(); got != len(wantKeys) {
		t.Errorf("Expected Len %d, got %d", len(wantKeys), got)
	}

	keys := s.Keys()
	sort.Strings(keys)
	if fmt.Sprint(keys) != fmt.Sprint(wantKeys) {
		t.Errorf("Expected keys %v, got %v", wantKeys, keys)
	}

	for _, key := range wantKeys {
		if ok, err := s.Has(key); err != nil || !ok {
			t.Errorf("Expected Has(%q) to be true, got ok=%v err=%v", key, ok, err)
		}
	}
	if ok, _ := s.Has("missing"); ok {
		t.Error("Expected Has of missing key to be false")
	}
}

func testRoundTrip(t *testing.T, factory StoreFactory) {
	path := storePath(t)

	mapping := map[string]any{
		"name":    "fKV",
		"count":   3,
		"enabled": true,
		"tags":    []any{"x", "y"},
		"limits":  map[string]any{"min": float64(0), "max": 1.5},
	}

	s, err := factory(path, nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := s.Update(mapping); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// A fresh instance on the same path must observe an equal mapping.
	reloaded, err := factory(path, nil)
	if err != nil {
		t.Fatalf("Failed to reload store: %v", err)
	}
	if got, want := reloaded.Len(), len(mapping); got != want {
		t.Errorf("Expected %d keys after reload, got %d", want, got)
	}
	for key, value := range mapping {
		assertJSONEqual(t, key, mustGet(t, reloaded, key), value)
	}
}

func testConcurrentWriters(t *testing.T, factory StoreFactory) {
	if testing.Short() {
		t.Skip("Skipping concurrency test in short mode")
	}

	path := storePath(t)

	// Initialize with one default key.
	if _, err := factory(path, map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}

	const writers = 5

	done := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(id int) {
			// Each writer is an independent instance on the same path.
			s, err := factory(path, nil)
			if err != nil {
				done <- fmt.Errorf("writer %d: %w", id, err)
				return
			}
			key := fmt.Sprintf("writer_%d", id)
			done <- s.Set(key, fmt.Sprintf("value_%d", id))
		}(i)
	}
	for i := 0; i < writers; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}

	// No writer's update may be discarded: the default key keeps its
	// original value and every writer's key is present.
	final, err := factory(path, nil)
	if err != nil {
		t.Fatalf("Failed to reload store: %v", err)
	}
	assertJSONEqual(t, "foo", mustGet(t, final, "foo"), "bar")
	for i := 0; i < writers; i++ {
		key := fmt.Sprintf("writer_%d", i)
		if ok, _ := final.Has(key); !ok {
			t.Errorf("Lost update: key %q is missing from the final document", key)
		}
	}
}
