package util

import "sync"

// copyBufs holds DefaultBufSize buffers for the Bridge copy loops.  A
// relay session takes two for its lifetime.
var copyBufs = sync.Pool{
	New: func() any {
		b := make([]byte, DefaultBufSize)
		return &b
	},
}

// GetBuf takes a copy buffer from the pool.  Return it with [PutBuf].
func GetBuf() *[]byte {
	return copyBufs.Get().(*[]byte)
}

// PutBuf hands buf back.  Buffers of the wrong size are dropped.
func PutBuf(buf *[]byte) {
	if buf == nil || cap(*buf) != DefaultBufSize {
		return
	}
	*buf = (*buf)[:DefaultBufSize]
	copyBufs.Put(buf)
}
