package cmap

import "sort"

// Index maps a key to a set of member strings, such as a username to the
// ids of its sockets. Empty sets are removed.
type Index struct {
	m *Map[map[string]struct{}]
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{m: New[map[string]struct{}]()}
}

// Add puts member into the set of key.
func (x *Index) Add(key, member string) {
	x.m.Compute(key, func(set map[string]struct{}, exists bool) (map[string]struct{}, bool) {
		if !exists {
			set = make(map[string]struct{}, 1)
		}
		set[member] = struct{}{}
		return set, true
	})
}

// Remove takes member out of the set of key.
func (x *Index) Remove(key, member string) {
	x.m.Compute(key, func(set map[string]struct{}, exists bool) (map[string]struct{}, bool) {
		if !exists {
			return nil, false
		}
		delete(set, member)
		return set, len(set) > 0
	})
}

// Members returns the sorted members of key.
func (x *Index) Members(key string) []string {
	var out []string
	x.m.Compute(key, func(set map[string]struct{}, exists bool) (map[string]struct{}, bool) {
		if !exists {
			return nil, false
		}
		out = make([]string, 0, len(set))
		for member := range set {
			out = append(out, member)
		}
		return set, true
	})
	sort.Strings(out)
	return out
}

// Has reports whether key has any member.
func (x *Index) Has(key string) bool {
	_, ok := x.m.Get(key)
	return ok
}

// Len returns the number of keys.
func (x *Index) Len() int {
	return x.m.Len()
}
