package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

// specGlob matches the spec file extensions accepted under each status
// directory.
const specGlob = "**/*.{md,markdown,yml,yaml,json}"

// cacheEntry is one parsed file held in the store cache. The entry is
// validated against (mtime, size) on every hit, so an external edit is a
// transparent cache miss.
type cacheEntry struct {
	mtime    time.Time
	size     int64
	sum      uint64
	spec     *Spec
	warnings []string
	loadedAt time.Time
}

// Store maintains the cached, parsed view of the spec tree. It owns the
// graph; other components read through Store operations and never mutate
// the returned specs.
type Store struct {
	root    string
	folders []string

	mu    sync.Mutex
	cache *lru.Cache[string, *cacheEntry]
	// byID maps spec id to file path, refreshed by LoadAll.
	byID map[string]string
}

// NewStore creates a Store over the given spec root and status folders.
// cacheSize bounds the number of parsed files held; least recently used
// entries are evicted first.
func NewStore(root string, folders []string, cacheSize int) (*Store, error) {
	cache, err := lru.New[string, *cacheEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating spec cache: %w", err)
	}
	return &Store{
		root:    root,
		folders: folders,
		cache:   cache,
		byID:    make(map[string]string),
	}, nil
}

// Root returns the spec tree root directory.
func (st *Store) Root() string {
	return st.root
}

// LoadAll parses every file under the configured status folders and returns
// the resulting graph. Parse failures are collected into the graph, not
// returned as errors.
func (st *Store) LoadAll() (*Graph, error) {
	paths, err := st.enumerate()
	if err != nil {
		return nil, err
	}

	var specs []*Spec
	var issues []ParseIssue
	warnings := make(map[string][]string)
	byID := make(map[string]string, len(paths))

	for _, path := range paths {
		s, warns, err := st.LoadPath(path)
		if err != nil {
			if issue, ok := err.(ParseIssue); ok {
				issues = append(issues, issue)
				continue
			}
			return nil, err
		}
		specs = append(specs, s)
		if len(warns) > 0 {
			warnings[path] = warns
		}
		if s.ID != "" {
			if _, dup := byID[s.ID]; !dup {
				byID[s.ID] = path
			}
		}
	}

	st.mu.Lock()
	st.byID = byID
	st.mu.Unlock()

	return NewGraph(specs, issues, warnings), nil
}

// Load parses the spec with the given id. The id must have been observed by
// a previous LoadAll.
func (st *Store) Load(specID string) (*Spec, []string, error) {
	st.mu.Lock()
	path, ok := st.byID[specID]
	st.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("unknown spec id: %s", specID)
	}
	return st.LoadPath(path)
}

// LoadPath parses a single file, serving from cache when the file is
// unchanged. Cache hits are O(1).
func (st *Store) LoadPath(path string) (*Spec, []string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, ParseIssue{Path: path, Message: fmt.Sprintf("stat: %v", err)}
	}

	st.mu.Lock()
	if entry, ok := st.cache.Get(path); ok {
		if entry.mtime.Equal(info.ModTime()) && entry.size == info.Size() {
			st.mu.Unlock()
			return entry.spec, entry.warnings, nil
		}
	}
	st.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, ParseIssue{Path: path, Message: fmt.Sprintf("read: %v", err)}
	}

	s, warns, err := Parse(path, string(data))
	if err != nil {
		return nil, nil, err
	}

	st.mu.Lock()
	st.cache.Add(path, &cacheEntry{
		mtime:    info.ModTime(),
		size:     info.Size(),
		sum:      xxhash.Sum64(data),
		spec:     s,
		warnings: warns,
		loadedAt: time.Now(),
	})
	if s.ID != "" {
		st.byID[s.ID] = path
	}
	st.mu.Unlock()

	return s, warns, nil
}

// Cached returns the last parsed value for a path without touching the
// filesystem. Used by the change detector to compare against the previous
// known content.
func (st *Store) Cached(path string) (*Spec, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	entry, ok := st.cache.Peek(path)
	if !ok {
		return nil, false
	}
	return entry.spec, true
}

// CachedSum returns the xxhash of the last parsed raw content for a path.
func (st *Store) CachedSum(path string) (uint64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	entry, ok := st.cache.Peek(path)
	if !ok {
		return 0, false
	}
	return entry.sum, true
}

// Invalidate marks a cache entry stale by spec id or path. The next read
// re-parses the file.
func (st *Store) Invalidate(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if path, ok := st.byID[key]; ok {
		st.cache.Remove(path)
		return
	}
	st.cache.Remove(key)
}

// PathOf returns the known file path for a spec id.
func (st *Store) PathOf(specID string) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	path, ok := st.byID[specID]
	return path, ok
}

// Maintain evicts cache entries older than maxAge. Intended to be called
// periodically by the sync engine's health tick.
func (st *Store) Maintain(maxAge time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	evicted := 0
	for _, path := range st.cache.Keys() {
		entry, ok := st.cache.Peek(path)
		if !ok {
			continue
		}
		if entry.loadedAt.Before(cutoff) {
			st.cache.Remove(path)
			evicted++
		}
	}
	if evicted > 0 {
		log.Debug("spec cache maintenance", "evicted", evicted, "max_age", maxAge)
	}
	return evicted
}

// enumerate lists every candidate spec file under the status folders,
// sorted for deterministic load order.
func (st *Store) enumerate() ([]string, error) {
	var paths []string
	for _, folder := range st.folders {
		dir := filepath.Join(st.root, folder)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		matches, err := doublestar.FilepathGlob(filepath.Join(dir, specGlob))
		if err != nil {
			return nil, fmt.Errorf("enumerating %s: %w", dir, err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)
	return paths, nil
}

// InSpecTree reports whether path lies under one of the status folders.
func (st *Store) InSpecTree(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, folder := range st.folders {
		dir, err := filepath.Abs(filepath.Join(st.root, folder))
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(dir, abs); err == nil && !filepath.IsAbs(rel) && rel != ".." && !hasDotDotPrefix(rel) {
			return true
		}
	}
	return false
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
