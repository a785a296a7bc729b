package port

import (
	"context"
	"testing"
	"time"
)

func TestSendRecv(t *testing.T) {
	p := New(1)
	ctx := context.Background()
	if err := p.Send(ctx, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	b, err := p.Recv(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello" {
		t.Fatalf("got %s", b)
	}
}

func TestRecvTimesOut(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Recv(ctx); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestTrySendFullBuffer(t *testing.T) {
	p := New(1)
	if !p.TrySend([]byte("a")) {
		t.Fatal("first send should succeed")
	}
	if p.TrySend([]byte("b")) {
		t.Fatal("second send into full buffer should fail")
	}
}

func TestNewPairWiring(t *testing.T) {
	a, b := NewPair(1)
	ctx := context.Background()
	if err := a.Out.Send(ctx, []byte("req")); err != nil {
		t.Fatal(err)
	}
	got, err := b.In.Recv(ctx)
	if err != nil || string(got) != "req" {
		t.Fatalf("got %s, err %v", got, err)
	}
	if err = b.Out.Send(ctx, []byte("resp")); err != nil {
		t.Fatal(err)
	}
	got, err = a.In.Recv(ctx)
	if err != nil || string(got) != "resp" {
		t.Fatalf("got %s, err %v", got, err)
	}
}
