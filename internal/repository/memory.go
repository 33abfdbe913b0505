package repository

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryKV is an in-process implementation of the KV contract. It backs
// tests and lets the server run without Redis (single-node development);
// the wiring in cmd/server falls back to it when Redis is unreachable.
//
// Expiry is evaluated lazily on access against an injectable clock so
// tests can step time instead of sleeping.
type MemoryKV struct {
	mu      sync.Mutex
	strings map[string]string
	sets    map[string]map[string]struct{}
	lists   map[string][]string
	expiry  map[string]time.Time

	// Now supplies the current time; defaults to time.Now.
	Now func() time.Time
}

// NewMemoryKV returns an empty store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		strings: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string][]string),
		expiry:  make(map[string]time.Time),
	}
}

func (m *MemoryKV) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// purge removes the key if its TTL has elapsed. Callers hold mu.
func (m *MemoryKV) purge(key string) {
	if exp, ok := m.expiry[key]; ok && !m.now().Before(exp) {
		delete(m.strings, key)
		delete(m.sets, key)
		delete(m.lists, key)
		delete(m.expiry, key)
	}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	v, ok := m.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	if ttl > 0 {
		m.expiry[key] = m.now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
	return nil
}

func (m *MemoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.strings, key)
		delete(m.sets, key)
		delete(m.lists, key)
		delete(m.expiry, key)
	}
	return nil
}

func (m *MemoryKV) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	if !m.exists(key) {
		return false, nil
	}
	m.expiry[key] = m.now().Add(ttl)
	return true, nil
}

func (m *MemoryKV) exists(key string) bool {
	if _, ok := m.strings[key]; ok {
		return true
	}
	if _, ok := m.sets[key]; ok {
		return true
	}
	_, ok := m.lists[key]
	return ok
}

func (m *MemoryKV) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	return m.exists(key), nil
}

func (m *MemoryKV) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	exp, ok := m.expiry[key]
	if !ok {
		return -1, nil
	}
	return exp.Sub(m.now()), nil
}

// Scan pages over the sorted key list. The cursor position is an index
// into that ordering, which is stable enough for the capped scans the
// repositories perform.
func (m *MemoryKV) Scan(_ context.Context, cur Cursor, pattern string, count int64) (Cursor, []string, error) {
	if cur.done {
		return cur, nil, ErrBadCursor
	}
	if count <= 0 {
		count = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]string, 0, len(m.strings)+len(m.sets)+len(m.lists))
	seen := make(map[string]struct{})
	collect := func(key string) {
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		all = append(all, key)
	}
	for k := range m.strings {
		collect(k)
	}
	for k := range m.sets {
		collect(k)
	}
	for k := range m.lists {
		collect(k)
	}
	sort.Strings(all)

	var matched []string
	i := int(cur.pos)
	for ; i < len(all) && int64(len(matched)) < count; i++ {
		m.purge(all[i])
		if !m.exists(all[i]) {
			continue
		}
		if ok, _ := path.Match(pattern, all[i]); ok {
			matched = append(matched, all[i])
		}
	}
	return Cursor{pos: uint64(i), done: i >= len(all)}, matched, nil
}

func (m *MemoryKV) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*string, len(keys))
	for i, key := range keys {
		m.purge(key)
		if v, ok := m.strings[key]; ok {
			s := v
			out[i] = &s
		}
	}
	return out, nil
}

func (m *MemoryKV) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

func (m *MemoryKV) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	set, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *MemoryKV) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	set := m.sets[key]
	out := make([]string, 0, len(set))
	for member := range set {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryKV) RPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	m.lists[key] = append(m.lists[key], values...)
	return nil
}

func (m *MemoryKV) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (m *MemoryKV) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	return int64(len(m.lists[key])), nil
}

func (m *MemoryKV) LRem(_ context.Context, key string, count int64, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	list := m.lists[key]
	removed := int64(0)
	out := list[:0]
	for _, v := range list {
		if v == value && (count == 0 || removed < count) {
			removed++
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		delete(m.lists, key)
	} else {
		m.lists[key] = out
	}
	return nil
}

func (m *MemoryKV) IncrWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	cur := int64(0)
	if v, ok := m.strings[key]; ok {
		cur, _ = strconv.ParseInt(v, 10, 64)
	} else {
		m.expiry[key] = m.now().Add(window)
	}
	cur++
	m.strings[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}
