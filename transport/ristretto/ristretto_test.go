package ristretto

import (
	"context"
	"testing"

	"github.com/unkn0wn-root/mcroute"
)

func TestRistrettoTransport(t *testing.T) {
	ctx := context.Background()
	tr, err := New(Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close(ctx) })

	if r := tr.Send(ctx, mcroute.Request{Key: "k", Value: []byte("v"), Flags: 2}, mcroute.OpSet); r.Result != mcroute.ResultStored {
		t.Fatalf("set: %+v", r)
	}
	r := tr.Send(ctx, mcroute.Request{Key: "k"}, mcroute.OpGet)
	if !r.Hit() || string(r.Value) != "v" || r.Flags != 2 {
		t.Fatalf("get: %+v", r)
	}
	if r := tr.Send(ctx, mcroute.Request{Key: "k"}, mcroute.OpDelete); r.Result != mcroute.ResultDeleted {
		t.Fatalf("delete: %+v", r)
	}
	if r := tr.Send(ctx, mcroute.Request{Key: "k"}, mcroute.OpGet); r.Hit() {
		t.Fatalf("get after delete: %+v", r)
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for zero config")
	}
}
