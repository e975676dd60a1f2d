package proxy

import (
	"sync"

	"github.com/die-net/tetherproxy/internal/clients"
)

type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

func (p *bufferPool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return *b
}

func (p *bufferPool) Put(b []byte) {
	// This &b forces a 32-byte heap allocation.  There's no way to avoid this when converting a non-pointer to an interface{}.
	p.pool.Put(&b)
}

var (
	chunkPool    = newBufferPool(clients.ChunkSize)
	datagramPool = newBufferPool(maxDatagram)
)

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535
