package idgen

import (
	"strconv"
	"sync/atomic"
	"time"
)

// Uint32 returns values 1,2,3... up to 2^32-1, then wraps around to 1.
// Zero is never generated.
type Uint32 struct {
	next atomic.Uint32
}

func (u *Uint32) Next() uint32 {
	n := u.next.Add(1)
	if n == 0 {
		n = u.next.Add(1)
	}
	return n
}

// BoxIDs produces box ids that are unique within a process, and very likely unique
// across processes, so that boxes from an imported file never collide with new ones.
// An id looks like "b<base36 start time>-<counter>".
type BoxIDs struct {
	prefix  string
	counter Uint32
}

func NewBoxIDs() *BoxIDs {
	return NewBoxIDsWithPrefix("b" + strconv.FormatInt(time.Now().UnixMilli(), 36))
}

// NewBoxIDsWithPrefix is used by tests that need predictable ids
func NewBoxIDsWithPrefix(prefix string) *BoxIDs {
	return &BoxIDs{prefix: prefix}
}

func (g *BoxIDs) NextID() string {
	return g.prefix + "-" + strconv.FormatUint(uint64(g.counter.Next()), 10)
}
