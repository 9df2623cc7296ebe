package kb

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Interconnect records which satellites may exchange ISL traffic. Links are
// directed; Add both directions for a symmetric link.
type Interconnect struct {
	mu    sync.RWMutex
	links map[uint32]map[uint32]struct{}
}

func NewInterconnect() *Interconnect {
	return &Interconnect{links: make(map[uint32]map[uint32]struct{})}
}

// Add records that src may reach dst. Adding a link twice is a no-op.
func (ic *Interconnect) Add(src, dst uint32) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	m := ic.links[src]
	if m == nil {
		m = make(map[uint32]struct{})
		ic.links[src] = m
	}
	m[dst] = struct{}{}
}

func (ic *Interconnect) Remove(src, dst uint32) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if m := ic.links[src]; m != nil {
		delete(m, dst)
		if len(m) == 0 {
			delete(ic.links, src)
		}
	}
}

// RemoveAll drops every link starting at src.
func (ic *Interconnect) RemoveAll(src uint32) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	delete(ic.links, src)
}

// Neighbours returns the satellites src may reach, ascending.
func (ic *Interconnect) Neighbours(src uint32) []uint32 {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	out := make([]uint32, 0, len(ic.links[src]))
	for dst := range ic.links[src] {
		out = append(out, dst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (ic *Interconnect) IsAvailable(src, dst uint32) bool {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	_, ok := ic.links[src][dst]
	return ok
}

// Size returns the number of directed links.
func (ic *Interconnect) Size() int {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	n := 0
	for _, m := range ic.links {
		n += len(m)
	}
	return n
}

// AddGrid links each satellite to its fore and aft neighbours in the same
// plane and to the satellite with the same index in the adjacent planes.
// planes[p][i] is the satellite ID at slot i of plane p. The last plane is
// joined back to the first only when wrap is set.
func (ic *Interconnect) AddGrid(planes [][]uint32, wrap bool) {
	link := func(a, b uint32) {
		if a == b {
			return
		}
		ic.Add(a, b)
		ic.Add(b, a)
	}
	for p, sats := range planes {
		n := len(sats)
		for i, sat := range sats {
			if n > 1 {
				link(sat, sats[(i+1)%n])
			}
			q := p + 1
			if q == len(planes) {
				if !wrap {
					continue
				}
				q = 0
			}
			if i < len(planes[q]) {
				link(sat, planes[q][i])
			}
		}
	}
}

// Write prints the table, one "src -> dst" line per link, ordered.
func (ic *Interconnect) Write(w io.Writer) error {
	ic.mu.RLock()
	srcs := make([]uint32, 0, len(ic.links))
	for src := range ic.links {
		srcs = append(srcs, src)
	}
	ic.mu.RUnlock()
	sort.Slice(srcs, func(i, j int) bool { return srcs[i] < srcs[j] })

	for _, src := range srcs {
		for _, dst := range ic.Neighbours(src) {
			if _, err := fmt.Fprintf(w, "%d -> %d\n", src, dst); err != nil {
				return err
			}
		}
	}
	return nil
}
