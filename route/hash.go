package route

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/mcroute"
	"github.com/unkn0wn-root/mcroute/furc"
)

var scratchPool = sync.Pool{New: func() any { return new(furc.Scratch) }}

// Hash sends each key to one child picked by the furc consistent hash.
// Growing the child list by one moves only keys that land on the new child.
type Hash struct {
	children []Handle
	salt     string
}

// NewHash panics if children is empty or larger than furc.MaximumPoolSize.
func NewHash(children []Handle, salt string) *Hash {
	if len(children) == 0 {
		panic("route: hash with no children")
	}
	if uint64(len(children)) > uint64(furc.MaximumPoolSize()) {
		panic("route: hash pool too large")
	}
	return &Hash{children: append([]Handle(nil), children...), salt: salt}
}

func (h *Hash) Children() []Handle { return append([]Handle(nil), h.children...) }

// Pick returns the child index for key.
func (h *Hash) Pick(key string) int {
	if len(h.children) == 1 {
		return 0
	}
	b := make([]byte, 0, len(key)+len(h.salt))
	b = append(b, key...)
	b = append(b, h.salt...)

	s := scratchPool.Get().(*furc.Scratch)
	idx := furc.HashArray(b, uint32(len(h.children)), s)
	scratchPool.Put(s)
	return int(idx)
}

func (h *Hash) Route(ctx context.Context, req mcroute.Request, op mcroute.Op) mcroute.Reply {
	return h.children[h.Pick(req.Key)].Route(ctx, req, op)
}
