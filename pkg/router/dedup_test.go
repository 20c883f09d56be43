package router

import "testing"

func TestDedupSetDetectsDuplicate(t *testing.T) {
	d := newDedupSet()
	k := dedupKey("aabbccdd", 42, 0x02, []byte("hi"))

	if d.CheckAndMark(k) {
		t.Fatalf("first sighting should not be a duplicate")
	}
	if !d.CheckAndMark(k) {
		t.Fatalf("second sighting should be a duplicate")
	}
}

func TestDedupSetDistinguishesDifferentPackets(t *testing.T) {
	d := newDedupSet()
	k1 := dedupKey("aabbccdd", 42, 0x02, []byte("hi"))
	k2 := dedupKey("aabbccdd", 43, 0x02, []byte("hi"))

	d.CheckAndMark(k1)
	if d.CheckAndMark(k2) {
		t.Fatalf("different timestamp should not collide")
	}
}

func TestDedupSetEvictsOverCapacity(t *testing.T) {
	d := newDedupSet()
	for i := 0; i < dedupCapacity+50; i++ {
		d.CheckAndMark(dedupKey("sender", uint64(i), 0x01, nil))
	}
	if d.Len() > dedupCapacity {
		t.Fatalf("expected set capped at %d entries, got %d", dedupCapacity, d.Len())
	}

	// The earliest keys should have been evicted and so are no longer
	// treated as duplicates.
	if d.CheckAndMark(dedupKey("sender", 0, 0x01, nil)) {
		t.Fatalf("expected evicted key to no longer be flagged duplicate")
	}
}
