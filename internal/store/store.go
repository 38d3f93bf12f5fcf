// Package store implements the hierarchical, watchable key/value store that
// holds pcpd configuration and mapping state. Paths are slash-separated
// (for example /pcp/config/pcp_enabled); values are scalar strings. The store
// keeps everything in memory and, when opened with a data directory,
// persists every mutation to disk atomically.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrExists is returned by CreateSubtree when the target path is occupied.
var ErrExists = errors.New("store: path exists")

// WatchFunc is invoked for every change under a watched pattern. It receives
// the full path of the changed key and its new value (empty on deletion) and
// reports whether it handled the change.
type WatchFunc func(path, value string) bool

type watcher struct {
	pattern string
	fn      WatchFunc
}

// Store is a watchable key/value tree. All key-level reads and writes are
// atomic; CreateSubtree provides compound check-then-insert atomicity.
// Watch callbacks run after the store lock is released, on the goroutine
// that performed the mutation.
type Store struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers []watcher
	dataDir  string
	logger   *slog.Logger
}

// Open creates a Store. With a non-empty dataDir the persisted state file is
// loaded (absence is not an error) and every subsequent mutation is written
// back; with an empty dataDir the store is purely in-memory.
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		values:  make(map[string]string),
		dataDir: dataDir,
		logger:  logger.With("component", "store"),
	}
	if dataDir != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Close flushes the store to disk.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func fullPath(path, key string) string {
	if key == "" {
		return path
	}
	return path + "/" + key
}

// Get returns the value stored at path/key.
func (s *Store) Get(path, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[fullPath(path, key)]
	return v, ok
}

// GetInt returns the integer value stored at path/key. A value that does not
// parse as an integer is treated as absent.
func (s *Store) GetInt(path, key string) (int64, bool) {
	v, ok := s.Get(path, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Set stores value at path/key and notifies matching watchers.
func (s *Store) Set(path, key, value string) error {
	p := fullPath(path, key)

	s.mu.Lock()
	s.values[p] = value
	fns := s.matchingWatchersLocked(p)
	err := s.persistLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(p, value)
	}
	if err != nil {
		return fmt.Errorf("store: set %s: %w", p, err)
	}
	return nil
}

// SetInt stores an integer value at path/key.
func (s *Store) SetInt(path, key string, value int64) error {
	return s.Set(path, key, strconv.FormatInt(value, 10))
}

// CreateSubtree atomically inserts a set of keys under path. It fails with
// ErrExists if anything is already stored at or under path, leaving the
// store untouched. This is the check-then-insert primitive mapping creation
// relies on.
func (s *Store) CreateSubtree(path string, values map[string]string) error {
	s.mu.Lock()
	prefix := path + "/"
	for p := range s.values {
		if p == path || strings.HasPrefix(p, prefix) {
			s.mu.Unlock()
			return fmt.Errorf("store: create %s: %w", path, ErrExists)
		}
	}
	type change struct{ path, value string }
	var notifications []change
	for key, value := range values {
		p := fullPath(path, key)
		s.values[p] = value
		notifications = append(notifications, change{p, value})
	}
	err := s.persistLocked()
	fnsByPath := make(map[string][]WatchFunc, len(notifications))
	for _, n := range notifications {
		fnsByPath[n.path] = s.matchingWatchersLocked(n.path)
	}
	s.mu.Unlock()

	for _, n := range notifications {
		for _, fn := range fnsByPath[n.path] {
			fn(n.path, n.value)
		}
	}
	if err != nil {
		return fmt.Errorf("store: create %s: %w", path, err)
	}
	return nil
}

// Search returns the sorted direct child paths of prefix. The prefix must
// end with a slash, matching the hierarchical query convention.
func (s *Store) Search(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for p := range s.values {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		if rest != "" {
			seen[prefix+rest] = struct{}{}
		}
	}

	children := make([]string, 0, len(seen))
	for c := range seen {
		children = append(children, c)
	}
	sort.Strings(children)
	return children
}

// Prune removes path and every key below it as one unit, notifying matching
// watchers with an empty value for each removed key.
func (s *Store) Prune(path string) error {
	prefix := path + "/"

	s.mu.Lock()
	var removed []string
	for p := range s.values {
		if p == path || strings.HasPrefix(p, prefix) {
			removed = append(removed, p)
		}
	}
	for _, p := range removed {
		delete(s.values, p)
	}
	fnsByPath := make(map[string][]WatchFunc, len(removed))
	for _, p := range removed {
		fnsByPath[p] = s.matchingWatchersLocked(p)
	}
	err := s.persistLocked()
	s.mu.Unlock()

	sort.Strings(removed)
	for _, p := range removed {
		for _, fn := range fnsByPath[p] {
			fn(p, "")
		}
	}
	if err != nil {
		return fmt.Errorf("store: prune %s: %w", path, err)
	}
	return nil
}

// Watch registers fn for changes matching pattern. A pattern ending in "/*"
// matches direct children of its prefix; a pattern ending in "/" matches
// every descendant; anything else matches exactly one path.
func (s *Store) Watch(pattern string, fn WatchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher{pattern: pattern, fn: fn})
}

func (s *Store) matchingWatchersLocked(path string) []WatchFunc {
	var fns []WatchFunc
	for _, w := range s.watchers {
		if patternMatches(w.pattern, path) {
			fns = append(fns, w.fn)
		}
	}
	return fns
}

func patternMatches(pattern, path string) bool {
	switch {
	case strings.HasSuffix(pattern, "/*"):
		prefix := pattern[:len(pattern)-1] // keep the trailing slash
		if !strings.HasPrefix(path, prefix) {
			return false
		}
		return !strings.Contains(path[len(prefix):], "/")
	case strings.HasSuffix(pattern, "/"):
		return strings.HasPrefix(path, pattern)
	default:
		return path == pattern
	}
}
