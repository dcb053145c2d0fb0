package parallel

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
)

// Digest fingerprints n uint16 values written concurrently in any order.
// Two digests are equal when every position received the same value.
type Digest struct {
	mut    sync.Mutex
	values []uint16
	filled []bool
}

// NewDigest prepares a digest of n positions.
func NewDigest(n int) *Digest {
	return &Digest{
		values: make([]uint16, n),
		filled: make([]bool, n),
	}
}

// Put stores value at position n. Writing a position twice is an error.
func (d *Digest) Put(n int, value uint16) error {
	d.mut.Lock()
	defer d.mut.Unlock()
	if n < 0 || n >= len(d.values) {
		return fmt.Errorf("digest: position %d out of range [0, %d)", n, len(d.values))
	}
	if d.filled[n] {
		return fmt.Errorf("digest: duplicate write at position %d", n)
	}
	d.values[n] = value
	d.filled[n] = true
	return nil
}

// MustPut is Put that panics on error.
func (d *Digest) MustPut(n int, value uint16) {
	if err := d.Put(n, value); err != nil {
		panic(err.Error())
	}
}

// Sum hashes all positions in order. Positions never written count as zero.
func (d *Digest) Sum() (ret [32]byte) {
	d.mut.Lock()
	defer d.mut.Unlock()
	h := sha256.New()
	var buf [2]byte
	for _, v := range d.values {
		binary.LittleEndian.PutUint16(buf[:], v)
		h.Write(buf[:])
	}
	copy(ret[:], h.Sum(nil))
	return
}
