package common

import (
	"encoding/binary"
	"io"
	"sync"
)

// FreeBytes is a wrapper around bytes
type FreeBytes struct {
	Bytes []byte
}

// Free resets the bytes and puts the FreeBytes back into the pool
func (fb *FreeBytes) Free() {
	fb.Bytes = fb.Bytes[:0]
	FreeBytesPool.Put(fb)
}

// NewFreeBytes returns a FreeBytes from the pool. Will allocate if the
// Pool returns a FreeBytes that doesn't have bytes allocated
func NewFreeBytes() *FreeBytes {
	fb := FreeBytesPool.Get().(*FreeBytes)

	if fb.Bytes == nil {
		// set minimum to 64 since that's what a merkle branch step
		// requires and it's called for every sibling of every proof
		fb.Bytes = make([]byte, 0, 64)
	}

	return fb
}

// FreeBytesPool is the pool of bytes to recycle&relieve gc pressure.
var FreeBytesPool = sync.Pool{
	New: func() interface{} { return new(FreeBytes) },
}

// Pair overwrites the buffer with left followed by right and returns it.
// The result is only valid until the next call or Free.
func (fb *FreeBytes) Pair(left, right []byte) []byte {
	fb.Bytes = append(append(fb.Bytes[:0], left...), right...)
	return fb.Bytes
}

// Uint32 reads four bytes from the provided reader using a buffer from the
// free list, converts it to a number using the provided byte order, and returns
// the resulting uint32.
func (fb *FreeBytes) Uint32(r io.Reader, byteOrder binary.ByteOrder) (uint32, error) {
	buf := fb.Bytes[:4]
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return byteOrder.Uint32(buf), nil
}

// Uint64 reads eight bytes from the provided reader using a buffer from the
// free list, converts it to a number using the provided byte order, and returns
// the resulting uint64.
func (fb *FreeBytes) Uint64(r io.Reader, byteOrder binary.ByteOrder) (uint64, error) {
	buf := fb.Bytes[:8]
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return byteOrder.Uint64(buf), nil
}

// PutUint32 serializes the provided uint32 using the given byte order into a
// buffer from the free list and writes the resulting four bytes to the given
// writer.
func (fb *FreeBytes) PutUint32(w io.Writer, byteOrder binary.ByteOrder, val uint32) error {
	buf := fb.Bytes[:4]
	byteOrder.PutUint32(buf, val)
	_, err := w.Write(buf)
	return err
}

// PutUint64 serializes the provided uint64 using the given byte order into a
// buffer from the free list and writes the resulting eight bytes to the given
// writer.
func (fb *FreeBytes) PutUint64(w io.Writer, byteOrder binary.ByteOrder, val uint64) error {
	buf := fb.Bytes[:8]
	byteOrder.PutUint64(buf, val)
	_, err := w.Write(buf)
	return err
}
