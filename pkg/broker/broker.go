// Package broker matches unmet prerequisites against completed outputs.
//
// Each pass first registers the completed outputs of every task, indexed
// by "name.point:output", then visits every task that still has open
// edges. A pass costs one map lookup per open edge. Satisfied edges are
// never re-examined.
package broker

import (
	"github.com/daviddao/cyclepool/pkg/model"
	"github.com/daviddao/cyclepool/pkg/task"
)

// Broker holds the output index for one negotiation pass.
type Broker struct {
	available map[string]struct{}
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{available: map[string]struct{}{}}
}

// Register indexes the completed outputs of proxies.
func (b *Broker) Register(proxies []*task.Proxy) {
	for _, p := range proxies {
		id := model.TaskID(p.Name, p.Point)
		for _, out := range p.Outputs.Completed() {
			b.available[id+":"+out] = struct{}{}
		}
	}
}

// Negotiate satisfies open edges of proxies from the index. It returns
// the number of edges newly satisfied.
func (b *Broker) Negotiate(proxies []*task.Proxy) int {
	n := 0
	for _, p := range proxies {
		if !p.HasUnsatisfied() {
			continue
		}
		matched := 0
		for _, pre := range append(append([]*task.Prerequisite{}, p.Prereqs...), p.SuicidePrereqs...) {
			for _, key := range pre.Unmet() {
				if _, ok := b.available[key]; ok && pre.SatisfyMe(key) {
					matched++
				}
			}
		}
		if matched > 0 {
			p.MarkDirty()
			n += matched
		}
	}
	return n
}

// Reset clears the index before the next pass.
func (b *Broker) Reset() {
	clear(b.available)
}

// Len returns the number of registered outputs.
func (b *Broker) Len() int { return len(b.available) }
