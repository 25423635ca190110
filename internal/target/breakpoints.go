package target

import (
	"sort"
)

// BreakpointSet tracks the breakpoints inserted into the live process.
type BreakpointSet struct {
	entries map[uint64]Disposition
}

// NewBreakpointSet returns an empty set.
func NewBreakpointSet() *BreakpointSet {
	return &BreakpointSet{entries: make(map[uint64]Disposition)}
}

// Add records a breakpoint. An existing persistent breakpoint stays persistent.
func (b *BreakpointSet) Add(addr uint64, d Disposition) {
	if cur, ok := b.entries[addr]; ok && cur == Persistent {
		return
	}
	b.entries[addr] = d
}

// Remove forgets a breakpoint.
func (b *BreakpointSet) Remove(addr uint64) {
	delete(b.entries, addr)
}

// Get returns the disposition of the breakpoint at addr.
func (b *BreakpointSet) Get(addr uint64) (Disposition, bool) {
	d, ok := b.entries[addr]
	return d, ok
}

// Len returns the number of breakpoints.
func (b *BreakpointSet) Len() int {
	return len(b.entries)
}

// Addresses returns all breakpoint addresses in ascending order.
func (b *BreakpointSet) Addresses() []uint64 {
	return b.filter(func(Disposition) bool { return true })
}

// WithDisposition returns the addresses with disposition d in ascending order.
func (b *BreakpointSet) WithDisposition(d Disposition) []uint64 {
	return b.filter(func(x Disposition) bool { return x == d })
}

func (b *BreakpointSet) filter(keep func(Disposition) bool) []uint64 {
	out := make([]uint64, 0, len(b.entries))
	for addr, d := range b.entries {
		if keep(d) {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
