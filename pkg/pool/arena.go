package pool

import "github.com/daviddao/cyclepool/pkg/task"

// Handle is a stable index into the pool's arena. A handle stays valid
// until its task is removed; the slot may then be reused.
type Handle int

type slot struct {
	proxy    *task.Proxy
	runahead bool
	queue    string
}

// arena stores task proxies in slots recycled through a free list.
type arena struct {
	slots []slot
	free  []Handle
}

func (a *arena) alloc(t *task.Proxy) Handle {
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[h] = slot{proxy: t, runahead: true}
		return h
	}
	a.slots = append(a.slots, slot{proxy: t, runahead: true})
	return Handle(len(a.slots) - 1)
}

func (a *arena) at(h Handle) *slot { return &a.slots[h] }

func (a *arena) release(h Handle) {
	a.slots[h] = slot{}
	a.free = append(a.free, h)
}

// live counts occupied slots.
func (a *arena) live() int { return len(a.slots) - len(a.free) }
