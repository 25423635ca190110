package target

import (
	"sort"
	"time"
)

// Range is a span of the debuggee's address space.
type Range struct {
	Addr uint64
	Size int
}

// End returns the first address past the range.
func (r Range) End() uint64 {
	return r.Addr + uint64(r.Size)
}

// Segment is a captured range of memory.
type Segment struct {
	Addr uint64
	Data []byte
}

// End returns the first address past the segment.
func (s Segment) End() uint64 {
	return s.Addr + uint64(len(s.Data))
}

// Snapshot is an immutable capture of the registers and the memory ranges
// of interest at a stop. Accessors return copies.
type Snapshot struct {
	pc         uint64
	regs       map[string]uint64
	segments   []Segment
	generation uint64
	capturedAt time.Time
}

func newSnapshot(pc uint64, regs map[string]uint64, segments []Segment, generation uint64) *Snapshot {
	r := make(map[string]uint64, len(regs))
	for k, v := range regs {
		r[k] = v
	}
	return &Snapshot{
		pc:         pc,
		regs:       r,
		segments:   mergeSegments(segments),
		generation: generation,
		capturedAt: time.Now(),
	}
}

// NewSnapshot builds a snapshot outside of a live session, e.g. from a saved
// capture or in tests.
func NewSnapshot(pc uint64, regs map[string]uint64, segments []Segment) *Snapshot {
	return newSnapshot(pc, regs, segments, 0)
}

// PC returns the program counter at the stop.
func (s *Snapshot) PC() uint64 {
	return s.pc
}

// Register returns one register value.
func (s *Snapshot) Register(name string) (uint64, bool) {
	v, ok := s.regs[name]
	return v, ok
}

// Registers returns a copy of all register values.
func (s *Snapshot) Registers() map[string]uint64 {
	out := make(map[string]uint64, len(s.regs))
	for k, v := range s.regs {
		out[k] = v
	}
	return out
}

// Segments returns a copy of the captured memory in ascending address order.
func (s *Snapshot) Segments() []Segment {
	out := make([]Segment, len(s.segments))
	for i, seg := range s.segments {
		data := make([]byte, len(seg.Data))
		copy(data, seg.Data)
		out[i] = Segment{Addr: seg.Addr, Data: data}
	}
	return out
}

// Contains reports whether [addr, addr+n) was captured.
func (s *Snapshot) Contains(addr uint64, n int) bool {
	_, ok := s.Read(addr, n)
	return ok
}

// Read returns a copy of captured memory.
func (s *Snapshot) Read(addr uint64, n int) ([]byte, bool) {
	end := addr + uint64(n)
	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].End() > addr
	})
	if i == len(s.segments) {
		return nil, false
	}
	seg := s.segments[i]
	if addr < seg.Addr || end > seg.End() {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, seg.Data[addr-seg.Addr:])
	return out, true
}

// Size returns the number of captured memory bytes.
func (s *Snapshot) Size() int {
	n := 0
	for _, seg := range s.segments {
		n += len(seg.Data)
	}
	return n
}

// Generation returns the session generation the snapshot was captured at.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// CapturedAt returns the capture time.
func (s *Snapshot) CapturedAt() time.Time {
	return s.capturedAt
}

// mergeSegments sorts segments and merges overlapping or adjacent ones.
func mergeSegments(in []Segment) []Segment {
	segs := make([]Segment, 0, len(in))
	for _, seg := range in {
		if len(seg.Data) == 0 {
			continue
		}
		data := make([]byte, len(seg.Data))
		copy(data, seg.Data)
		segs = append(segs, Segment{Addr: seg.Addr, Data: data})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Addr < segs[j].Addr })

	var out []Segment
	for _, seg := range segs {
		if len(out) == 0 || seg.Addr > out[len(out)-1].End() {
			out = append(out, seg)
			continue
		}
		last := &out[len(out)-1]
		if seg.End() <= last.End() {
			continue
		}
		last.Data = append(last.Data, seg.Data[last.End()-seg.Addr:]...)
	}
	return out
}
