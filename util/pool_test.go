package util

import "testing"

func TestGetBuf_Size(t *testing.T) {
	buf := GetBuf()
	defer PutBuf(buf)
	if len(*buf) != DefaultBufSize {
		t.Errorf("len = %d, want %d", len(*buf), DefaultBufSize)
	}
}

func TestPutBuf_RestoresLength(t *testing.T) {
	buf := GetBuf()
	*buf = (*buf)[:10]
	PutBuf(buf)
	if len(*buf) != DefaultBufSize {
		t.Errorf("len = %d after PutBuf", len(*buf))
	}
}

func TestPutBuf_Ignores(t *testing.T) {
	PutBuf(nil)
	small := make([]byte, 16)
	PutBuf(&small) // must not enter the pool
}
