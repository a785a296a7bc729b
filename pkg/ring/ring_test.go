package ring

import "testing"

func TestWriteReadOrder(t *testing.T) {
	r := New(4)
	for i := byte(0); i < 4; i++ {
		if !r.TryWrite([]byte{i}) {
			t.Fatalf("write %d should have succeeded", i)
		}
	}
	if r.TryWrite([]byte{99}) {
		t.Fatal("write into full ring should have failed")
	}
	for i := byte(0); i < 4; i++ {
		b, ok := r.TryRead()
		if !ok {
			t.Fatalf("read %d should have succeeded", i)
		}
		if b[0] != i {
			t.Fatalf("expected %d, got %d", i, b[0])
		}
	}
	if _, ok := r.TryRead(); ok {
		t.Fatal("read from empty ring should have failed")
	}
}

func TestWrapAround(t *testing.T) {
	r := New(2)
	r.TryWrite([]byte("a"))
	r.TryWrite([]byte("b"))
	b, _ := r.TryRead()
	if string(b) != "a" {
		t.Fatalf("expected a, got %s", b)
	}
	r.TryWrite([]byte("c"))
	b, _ = r.TryRead()
	if string(b) != "b" {
		t.Fatalf("expected b, got %s", b)
	}
	b, _ = r.TryRead()
	if string(b) != "c" {
		t.Fatalf("expected c, got %s", b)
	}
}
