// Package ring provides the fixed-capacity byte ring shared between an
// interrupt handler and the foreground task.
//
// A Buffer has exactly one producer and one consumer. The producer only
// ever stores head and the consumer only ever stores tail, so the two
// sides never need a lock. Both indices are accessed atomically because
// each side reads the index owned by the other.
//
// One slot is always left empty: the buffer is empty when head == tail and
// full when head+1 == tail (mod size).
package ring

import (
	"runtime"
	"sync/atomic"
)

// DefaultSize is the storage size used for UART channels.
const DefaultSize = 6000

// Buffer is a single-producer/single-consumer byte ring.
type Buffer struct {
	storage []byte
	size    uint32

	head    uint32 // producer owned
	tail    uint32 // consumer owned
	dropped uint32
}

// New creates a Buffer with size bytes of storage, which holds at most
// size-1 bytes.
func New(size int) *Buffer {
	if size < 2 {
		panic("ring: size must be at least 2")
	}
	return &Buffer{storage: make([]byte, size), size: uint32(size)}
}

func (b *Buffer) next(i uint32) uint32 {
	return (i + 1) % b.size
}

// Put stores a byte without blocking. It is the producer side used from
// interrupt context: when the buffer is full the byte is dropped, counted,
// and false is returned.
func (b *Buffer) Put(c byte) bool {
	head := atomic.LoadUint32(&b.head)
	loc := b.next(head)
	if loc == atomic.LoadUint32(&b.tail) {
		atomic.AddUint32(&b.dropped, 1)
		return false
	}
	b.storage[head] = c
	atomic.StoreUint32(&b.head, loc)
	return true
}

// Drop counts a byte lost before it reached the buffer, e.g. a receiver
// overrun.
func (b *Buffer) Drop() {
	atomic.AddUint32(&b.dropped, 1)
}

// Write stores a byte, spinning until a slot is free. It is the producer
// side used by the foreground task which must not lose data.
func (b *Buffer) Write(c byte) {
	head := atomic.LoadUint32(&b.head)
	loc := b.next(head)
	for loc == atomic.LoadUint32(&b.tail) {
		runtime.Gosched()
	}
	b.storage[head] = c
	atomic.StoreUint32(&b.head, loc)
}

// Get removes and returns the next byte. ok is false when the buffer is empty.
func (b *Buffer) Get() (c byte, ok bool) {
	tail := atomic.LoadUint32(&b.tail)
	if tail == atomic.LoadUint32(&b.head) {
		return 0, false
	}
	c = b.storage[tail]
	atomic.StoreUint32(&b.tail, b.next(tail))
	return c, true
}

// Peek returns the next byte without removing it.
func (b *Buffer) Peek() (c byte, ok bool) {
	tail := atomic.LoadUint32(&b.tail)
	if tail == atomic.LoadUint32(&b.head) {
		return 0, false
	}
	return b.storage[tail], true
}

// Len returns the number of bytes available for reading.
func (b *Buffer) Len() int {
	head, tail := atomic.LoadUint32(&b.head), atomic.LoadUint32(&b.tail)
	return int((b.size + head - tail) % b.size)
}

// Cap returns the maximum number of bytes the buffer can hold.
func (b *Buffer) Cap() int {
	return int(b.size) - 1
}

// Clear discards all unread bytes. It belongs to the consumer side.
func (b *Buffer) Clear() {
	atomic.StoreUint32(&b.tail, atomic.LoadUint32(&b.head))
}

// Dropped returns how many bytes Put discarded because the buffer was full.
func (b *Buffer) Dropped() uint32 {
	return atomic.LoadUint32(&b.dropped)
}
