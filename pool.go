package gopyramid

import (
	"sync"
)

// Pooled byte slices for compressed tile reads. Each class holds buffers of
// exactly its size so PutBuffer can route a buffer back by capacity.
var bufferClasses = []int{
	64 * 1024,       // small tiles
	256 * 1024,      // 256x256 RGB(A) tiles
	1024 * 1024,     // 512x512 tiles
	4 * 1024 * 1024, // large tiles
}

var bufferPools = func() []*sync.Pool {
	pools := make([]*sync.Pool, len(bufferClasses))
	for i, size := range bufferClasses {
		size := size
		pools[i] = &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		}
	}
	return pools
}()

// GetBuffer returns a byte slice of the requested length from the pool.
// Call PutBuffer when done to return it to the pool.
func GetBuffer(size int) []byte {
	for i, class := range bufferClasses {
		if size <= class {
			bufPtr := bufferPools[i].Get().(*[]byte)
			return (*bufPtr)[:size]
		}
	}
	// For very large buffers, allocate directly
	return make([]byte, size)
}

// PutBuffer returns a buffer to the pool.
// The buffer should not be used after calling this function.
func PutBuffer(buf []byte) {
	c := cap(buf)
	for i, class := range bufferClasses {
		if c == class {
			buf = buf[:c]
			bufferPools[i].Put(&buf)
			return
		}
	}
	// Don't pool non-standard sizes or very large buffers
}
