package service

import (
	"hash/fnv"
	"sync"
)

// stripeCount is a power of two so the hash distributes evenly.
const stripeCount = 64

// stripedLocks serializes in-process racers on the same item without a
// session-wide lock. The database compare-and-set remains the cross-process
// guard; the stripes just keep one process from issuing a question-bank
// write it is about to lose.
type stripedLocks struct {
	stripes [stripeCount]sync.Mutex
}

func newStripedLocks() *stripedLocks {
	return &stripedLocks{}
}

func (l *stripedLocks) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &l.stripes[h.Sum32()&(stripeCount-1)]
	m.Lock()
	return m
}
