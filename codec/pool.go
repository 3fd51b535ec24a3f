package codec

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// Buffers are pooled in power-of-two size classes from 512B to 4MiB. Larger
// payloads get a one-off allocation.
const (
	minClassBits = 9
	maxClassBits = 22
)

// MaxPooledBody is the largest declared length Deserialize reads into a
// pooled buffer. Longer payloads are stream-decoded.
const MaxPooledBody = 1 << maxClassBits

var (
	pools       [maxClassBits - minClassBits + 1]sync.Pool
	outstanding atomic.Int64
)

func classOf(n int) int {
	if n <= 1<<minClassBits {
		return 0
	}
	return bits.Len(uint(n-1)) - minClassBits
}

// getBuffer returns a slice of length n. Every call must be paired with putBuffer.
func getBuffer(n int) *[]byte {
	outstanding.Add(1)
	c := classOf(n)
	if c >= len(pools) {
		b := make([]byte, n)
		return &b
	}
	if p, ok := pools[c].Get().(*[]byte); ok {
		*p = (*p)[:n]
		return p
	}
	b := make([]byte, n, 1<<(c+minClassBits))
	return &b
}

func putBuffer(b *[]byte) {
	outstanding.Add(-1)
	c := classOf(cap(*b))
	if c >= len(pools) || cap(*b) != 1<<(c+minClassBits) {
		return
	}
	*b = (*b)[:0]
	pools[c].Put(b)
}
