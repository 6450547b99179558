package archidex

import (
	"encoding/binary"
	"sort"
	"sync"
)

// PostingStore abstracts how token posting lists are stored and retrieved.
// Lists are ascending id slices; implementations keep that invariant.
type PostingStore interface {
	Replace(term string, ids []int64)
	Add(term string, id int64)
	Get(term string) []int64
	Range(fn func(term string, ids []int64) bool)
	Len() int
}

func newPostingStore(compressed bool) PostingStore {
	if compressed {
		return newCompressedPostingStore()
	}
	return &mapPostingStore{data: make(map[string][]int64)}
}

// mapPostingStore is the default in-memory posting storage.
type mapPostingStore struct {
	mu   sync.RWMutex
	data map[string][]int64
}

func (m *mapPostingStore) Replace(term string, ids []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) == 0 {
		delete(m.data, term)
		return
	}
	buf := make([]int64, len(ids))
	copy(buf, ids)
	sort.Slice(buf, func(i, j int) bool { return buf[i] < buf[j] })
	m.data[term] = buf
}

func (m *mapPostingStore) Add(term string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.data[term]
	pos := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if pos < len(ids) && ids[pos] == id {
		return
	}
	ids = append(ids, 0)
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = id
	m.data[term] = ids
}

func (m *mapPostingStore) Get(term string) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids, ok := m.data[term]
	if !ok || len(ids) == 0 {
		return nil
	}
	buf := make([]int64, len(ids))
	copy(buf, ids)
	return buf
}

func (m *mapPostingStore) Range(fn func(term string, ids []int64) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for term, ids := range m.data {
		buf := make([]int64, len(ids))
		copy(buf, ids)
		if !fn(term, buf) {
			return
		}
	}
}

func (m *mapPostingStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// compressedPostingStore keeps each list delta-encoded with uvarints.
// Lists decode on Get; Add decodes, inserts and re-encodes, which is fine for
// the incremental build path where lists are short.
type compressedPostingStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newCompressedPostingStore() *compressedPostingStore {
	return &compressedPostingStore{data: make(map[string][]byte)}
}

func (c *compressedPostingStore) Replace(term string, ids []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ids) == 0 {
		delete(c.data, term)
		return
	}
	buf := make([]int64, len(ids))
	copy(buf, ids)
	sort.Slice(buf, func(i, j int) bool { return buf[i] < buf[j] })
	c.data[term] = encodeDeltas(buf)
}

func (c *compressedPostingStore) Add(term string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := decodeDeltas(c.data[term])
	pos := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if pos < len(ids) && ids[pos] == id {
		return
	}
	ids = append(ids, 0)
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = id
	c.data[term] = encodeDeltas(ids)
}

func (c *compressedPostingStore) Get(term string) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return decodeDeltas(c.data[term])
}

func (c *compressedPostingStore) Range(fn func(term string, ids []int64) bool) {
	c.mu.RLock()
	terms := make([]string, 0, len(c.data))
	for term := range c.data {
		terms = append(terms, term)
	}
	c.mu.RUnlock()
	for _, term := range terms {
		if !fn(term, c.Get(term)) {
			return
		}
	}
}

func (c *compressedPostingStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func encodeDeltas(ids []int64) []byte {
	buf := make([]byte, 0, len(ids)*2)
	var tmp [binary.MaxVarintLen64]byte
	prev := int64(0)
	for _, id := range ids {
		n := binary.PutUvarint(tmp[:], uint64(id-prev))
		buf = append(buf, tmp[:n]...)
		prev = id
	}
	return buf
}

func decodeDeltas(buf []byte) []int64 {
	if len(buf) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(buf))
	prev := int64(0)
	for len(buf) > 0 {
		delta, n := binary.Uvarint(buf)
		if n <= 0 {
			return ids
		}
		prev += int64(delta)
		ids = append(ids, prev)
		buf = buf[n:]
	}
	return ids
}
