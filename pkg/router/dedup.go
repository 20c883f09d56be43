package router

import (
	"container/list"
	"encoding/binary"
	"hash/fnv"
	"sync"
	"time"
)

const (
	dedupCapacity = 10_000
	dedupTTL      = 2 * time.Minute
)

// dedupKey identifies a packet for the router's duplicate-suppression
// set: sender hex, timestamp, type, and a hash of the payload.
func dedupKey(senderHex string, timestamp uint64, typ uint8, payload []byte) uint64 {
	h := fnv.New64a()
	h.Write([]byte(senderHex))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], timestamp)
	h.Write(ts[:])
	h.Write([]byte{typ})
	h.Write(payload)
	return h.Sum64()
}

type dedupEntry struct {
	key  uint64
	seen time.Time
}

// dedupSet is a bounded, TTL-expiring set of recently seen packet keys,
// evicted both by age (2 minutes since last sighting) and by capacity
// (~10,000 entries, least recently seen first): an LRU bucket where a
// repeat sighting refreshes an entry.
type dedupSet struct {
	mu      sync.Mutex
	order   *list.List // front = oldest
	byKey   map[uint64]*list.Element
}

func newDedupSet() *dedupSet {
	return &dedupSet{
		order: list.New(),
		byKey: make(map[uint64]*list.Element),
	}
}

// CheckAndMark reports whether key has already been seen within the TTL
// window. If not, it records it and returns false (not a duplicate).
func (d *dedupSet) CheckAndMark(key uint64) (duplicate bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictExpiredLocked()

	if el, ok := d.byKey[key]; ok {
		el.Value.(*dedupEntry).seen = time.Now()
		d.order.MoveToBack(el)
		return true
	}

	el := d.order.PushBack(&dedupEntry{key: key, seen: time.Now()})
	d.byKey[key] = el

	for d.order.Len() > dedupCapacity {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.byKey, oldest.Value.(*dedupEntry).key)
	}
	return false
}

func (d *dedupSet) evictExpiredLocked() {
	cutoff := time.Now().Add(-dedupTTL)
	for {
		front := d.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(*dedupEntry)
		if entry.seen.After(cutoff) {
			return
		}
		d.order.Remove(front)
		delete(d.byKey, entry.key)
	}
}

// Len reports the number of currently tracked entries, for tests and
// diagnostics.
func (d *dedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
