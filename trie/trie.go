// Package trie provides a compressed radix trie keyed by byte strings.
// It backs token suggestions: keys are index tokens, values are caller data.
package trie

import (
	"bytes"
	"sync"
)

// Trie represents the root of the trie. Safe for concurrent use.
type Trie struct {
	mu   sync.RWMutex
	root *node
	size int
}

// node represents a node in the trie
type node struct {
	label    []byte // compressed path (can be more than one byte)
	value    any
	children map[byte]*node
	isLeaf   bool
}

// New creates an empty Trie.
func New() *Trie {
	return &Trie{root: &node{children: make(map[byte]*node)}}
}

// Len returns the number of keys stored.
func (t *Trie) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Insert adds a key-value pair to the trie, replacing an existing value.
func (t *Trie) Insert(key string, value any) {
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insert(t.root, []byte(key), value)
}

func (t *Trie) insert(n *node, key []byte, value any) {
	if len(key) == 0 {
		if !n.isLeaf {
			t.size++
		}
		n.value = value
		n.isLeaf = true
		return
	}

	c := key[0]
	child := n.children[c]
	if child == nil {
		n.children[c] = &node{
			label:    key,
			value:    value,
			children: make(map[byte]*node),
			isLeaf:   true,
		}
		t.size++
		return
	}

	common := commonPrefix(key, child.label)
	if len(common) == len(child.label) {
		t.insert(child, key[len(common):], value)
		return
	}

	// Split the child at the common prefix.
	split := &node{
		label:    common,
		children: make(map[byte]*node),
	}
	child.label = child.label[len(common):]
	split.children[child.label[0]] = child
	n.children[c] = split

	rest := key[len(common):]
	if len(rest) == 0 {
		split.value = value
		split.isLeaf = true
		t.size++
		return
	}
	split.children[rest[0]] = &node{
		label:    rest,
		value:    value,
		children: make(map[byte]*node),
		isLeaf:   true,
	}
	t.size++
}

// Get returns the value for a given key.
func (t *Trie) Get(key string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	k := []byte(key)
	n := t.root
	for len(k) > 0 {
		child := n.children[k[0]]
		if child == nil || !bytes.HasPrefix(k, child.label) {
			return nil, false
		}
		k = k[len(child.label):]
		n = child
	}
	if n.isLeaf {
		return n.value, true
	}
	return nil, false
}

// WalkPrefix visits every key that starts with prefix, in unspecified order.
// Return false from fn to stop early.
func (t *Trie) WalkPrefix(prefix string, fn func(key string, value any) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	k := []byte(prefix)
	n := t.root
	consumed := make([]byte, 0, len(prefix)+16)
	for len(k) > 0 {
		child := n.children[k[0]]
		if child == nil {
			return
		}
		if len(k) < len(child.label) {
			// Prefix ends inside this edge; the whole subtree matches
			// iff the edge continues the prefix.
			if !bytes.HasPrefix(child.label, k) {
				return
			}
			consumed = append(consumed, child.label...)
			n = child
			k = nil
			break
		}
		if !bytes.HasPrefix(k, child.label) {
			return
		}
		consumed = append(consumed, child.label...)
		k = k[len(child.label):]
		n = child
	}
	t.walk(n, consumed, fn)
}

// Walk visits every key-value pair in the trie.
func (t *Trie) Walk(fn func(key string, value any) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.walk(t.root, nil, fn)
}

func (t *Trie) walk(n *node, prefix []byte, fn func(key string, value any) bool) bool {
	if n.isLeaf {
		if !fn(string(prefix), n.value) {
			return false
		}
	}
	for _, child := range n.children {
		next := append(append([]byte{}, prefix...), child.label...)
		if !t.walk(child, next, fn) {
			return false
		}
	}
	return true
}

func commonPrefix(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}
