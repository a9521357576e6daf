package fstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ValentinKolb/fKV/lib/liveness"
	"github.com/ValentinKolb/fKV/lib/lockfile"
	"github.com/ValentinKolb/fKV/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

var (
	metricMutations = metrics.GetOrCreateCounter("fkv_store_mutations_total")
	metricLoads     = metrics.GetOrCreateCounter("fkv_store_loads_total")
)

// --------------------------------------------------------------------------
// Store Implementation
// --------------------------------------------------------------------------

type storeImpl struct {
	path     string
	lock     lockfile.ILock
	defaults map[string]json.RawMessage
	mirror   *xsync.MapOf[string, json.RawMessage]
}

// New creates a file store backed by the JSON document at path. If the
// file does not exist yet, defaults (may be nil) are written immediately
// and become the initial document. Blocking lock acquisition uses
// lockfile.DefaultTimeout.
func New(path string, defaults map[string]any) (store.IStore, error) {
	return NewWithTimeout(path, defaults, lockfile.DefaultTimeout)
}

// NewWithTimeout is like New with an explicit lock-acquisition timeout.
func NewWithTimeout(path string, defaults map[string]any, timeout time.Duration) (store.IStore, error) {
	return NewWithLockOptions(path, defaults, timeout, lockfile.DefaultRetryInterval)
}

// NewWithLockOptions is like New with an explicit lock-acquisition
// timeout and polling interval.
func NewWithLockOptions(path string, defaults map[string]any, timeout, retryInterval time.Duration) (store.IStore, error) {
	rawDefaults, err := marshalEntries(defaults)
	if err != nil {
		return nil, err
	}

	s := &storeImpl{
		path:     path,
		lock:     lockfile.NewWithOracle(path, timeout, retryInterval, liveness.New()),
		defaults: rawDefaults,
		mirror:   xsync.NewMapOf[string, json.RawMessage](),
	}

	// Initialize the document: write defaults if the file is absent,
	// otherwise load the existing content.
	if _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return store.WrapError(store.RetCInvalidOperation,
			fmt.Sprintf("value for key %q is not JSON-serializable", key), err)
	}
	return s.mutate(func(doc map[string]json.RawMessage) {
		doc[key] = raw
	})
}

func (s *storeImpl) SetDefault(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return store.WrapError(store.RetCInvalidOperation,
			fmt.Sprintf("value for key %q is not JSON-serializable", key), err)
	}
	return s.mutate(func(doc map[string]json.RawMessage) {
		if _, ok := doc[key]; !ok {
			doc[key] = raw
		}
	})
}

func (s *storeImpl) Update(entries map[string]any) error {
	raw, err := marshalEntries(entries)
	if err != nil {
		return err
	}
	return s.mutate(func(doc map[string]json.RawMessage) {
		for key, value := range raw {
			doc[key] = value
		}
	})
}

func (s *storeImpl) Delete(key string) error {
	return s.mutate(func(doc map[string]json.RawMessage) {
		delete(doc, key)
	})
}

func (s *storeImpl) Get(key string) (json.RawMessage, bool, error) {
	value, ok := s.mirror.Load(key)
	if !ok {
		return nil, false, nil
	}
	// Hand out a copy, the mirror's slices are shared with the document.
	return append(json.RawMessage(nil), value...), true, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	_, ok := s.mirror.Load(key)
	return ok, nil
}

func (s *storeImpl) Len() int {
	return s.mirror.Size()
}

func (s *storeImpl) Keys() []string {
	keys := make([]string, 0, s.mirror.Size())
	s.mirror.Range(func(key string, _ json.RawMessage) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

func (s *storeImpl) Load() (map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage

	// The lock is held even for reading: JSON parsing during an
	// in-progress write by a process that bypasses the atomic-rename path
	// would otherwise observe a half-written file.
	err := s.locked(func() error {
		loaded, existed, err := s.readDocument()
		if err != nil {
			return err
		}
		if !existed {
			// First contact with this path: persist the defaults so they
			// become the initial document.
			if err := s.writeDocument(loaded); err != nil {
				return err
			}
		}
		doc = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.refreshMirror(doc)
	metricLoads.Inc()
	return doc, nil
}

func (s *storeImpl) Save() error {
	doc := make(map[string]json.RawMessage, s.mirror.Size())
	s.mirror.Range(func(key string, value json.RawMessage) bool {
		doc[key] = value
		return true
	})

	return s.locked(func() error {
		return s.writeDocument(doc)
	})
}

// --------------------------------------------------------------------------
// Internal Helpers
// --------------------------------------------------------------------------

// mutate performs one serialized read-modify-write cycle: lock, re-read
// the on-disk document, apply fn, write back atomically, refresh the
// mirror, unlock. On any error the mirror is left unchanged.
func (s *storeImpl) mutate(fn func(doc map[string]json.RawMessage)) error {
	var doc map[string]json.RawMessage

	err := s.locked(func() error {
		loaded, _, err := s.readDocument()
		if err != nil {
			return err
		}
		fn(loaded)
		if err := s.writeDocument(loaded); err != nil {
			return err
		}
		doc = loaded
		return nil
	})
	if err != nil {
		return err
	}

	s.refreshMirror(doc)
	metricMutations.Inc()
	return nil
}

// locked runs fn while holding the backing-path lock and translates lock
// timeouts into the store error system.
func (s *storeImpl) locked(fn func() error) error {
	err := s.lock.WithLock(fn)

	var acqErr *lockfile.AcquisitionError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &acqErr):
		return store.WrapError(store.RetCAcquireTimeout,
			fmt.Sprintf("backing path %s is locked by another process", s.path), err)
	default:
		var storeErr *store.Error
		if errors.As(err, &storeErr) {
			return err
		}
		return store.WrapError(store.RetCInternalError,
			fmt.Sprintf("filesystem operation on %s failed", s.path), err)
	}
}

// readDocument reads and parses the backing document. The caller must hold
// the lock. A missing or empty file yields a copy of the defaults and
// existed=false. An existing document is authoritative as-is: defaults
// apply only at first contact, so a key deleted from the document does not
// reappear on later reads.
func (s *storeImpl) readDocument() (doc map[string]json.RawMessage, existed bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, false, store.WrapError(store.RetCInternalError,
			fmt.Sprintf("failed to read %s", s.path), err)
	}

	doc = make(map[string]json.RawMessage, len(s.defaults))
	existed = err == nil && len(data) > 0

	if existed {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, false, store.WrapError(store.RetCParseError,
				fmt.Sprintf("backing document %s is not a valid JSON object", s.path), err)
		}
		return doc, true, nil
	}

	for key, value := range s.defaults {
		doc[key] = value
	}
	return doc, false, nil
}

// writeDocument serializes doc and writes it via temp-file-plus-rename so
// that concurrent readers never observe a partial document. The caller
// must hold the lock.
func (s *storeImpl) writeDocument(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return store.WrapError(store.RetCInternalError,
			fmt.Sprintf("failed to serialize document for %s", s.path), err)
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return store.WrapError(store.RetCInternalError,
			fmt.Sprintf("failed to write %s", s.path), err)
	}
	return nil
}

// refreshMirror replaces the mirror content without a transient empty
// window: surviving keys are stored first, removed keys are pruned after,
// so a concurrent reader never misses a key that is present throughout.
func (s *storeImpl) refreshMirror(doc map[string]json.RawMessage) {
	for key, value := range doc {
		s.mirror.Store(key, value)
	}
	s.mirror.Range(func(key string, _ json.RawMessage) bool {
		if _, ok := doc[key]; !ok {
			s.mirror.Delete(key)
		}
		return true
	})
}

func marshalEntries(entries map[string]any) (map[string]json.RawMessage, error) {
	raw := make(map[string]json.RawMessage, len(entries))
	for key, value := range entries {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, store.WrapError(store.RetCInvalidOperation,
				fmt.Sprintf("value for key %q is not JSON-serializable", key), err)
		}
		raw[key] = data
	}
	return raw, nil
}
