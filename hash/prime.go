package hash

import (
	"sync"

	"github.com/jbarham/primegen"
)

var (
	primeMu    sync.Mutex
	primeCache = map[uint32]uint32{}
)

// PrimeAtLeast returns the smallest prime p >= n. Values below 2 yield 2.
func PrimeAtLeast(n uint32) uint32 {
	if n < 2 {
		return 2
	}
	primeMu.Lock()
	defer primeMu.Unlock()
	if p, ok := primeCache[n]; ok {
		return p
	}
	pg := primegen.New()
	for {
		p := pg.Next()
		if p >= uint64(n) {
			primeCache[n] = uint32(p)
			return uint32(p)
		}
	}
}
