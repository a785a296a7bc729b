package bufpool

import (
	"testing"
)

func TestBufferPoolGetPut(t *testing.T) {
	buf1 := Get()
	if cap(buf1) < BufferSize {
		t.Errorf("expected buffer capacity of at least %d, got %d", BufferSize, cap(buf1))
	}
	buf1 = append(buf1, 42)
	Put(buf1)

	buf2 := Get()
	if cap(buf2) < BufferSize {
		t.Errorf("expected buffer capacity of at least %d, got %d", BufferSize, cap(buf2))
	}
	if len(buf2) != 0 {
		t.Errorf("expected a returned buffer to be reset to zero length, got %d", len(buf2))
	}
}

func TestMultipleBuffers(t *testing.T) {
	const numBuffers = 10
	buffers := make([]B, numBuffers)
	for i := 0; i < numBuffers; i++ {
		buffers[i] = Get()
		if cap(buffers[i]) < BufferSize {
			t.Errorf("buffer %d: expected capacity of at least %d, got %d", i, BufferSize, cap(buffers[i]))
		}
	}
	for i := 0; i < numBuffers; i++ {
		Put(buffers[i])
	}
}

func BenchmarkGetPut(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := Get()
		Put(buf)
	}
}
