package target

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMergeSegments(t *testing.T) {
	tests := []struct {
		name string
		in   []Segment
		want []Segment
	}{
		{
			name: "disjoint kept apart",
			in: []Segment{
				{Addr: 0x2000, Data: []byte{3}},
				{Addr: 0x1000, Data: []byte{1, 2}},
			},
			want: []Segment{
				{Addr: 0x1000, Data: []byte{1, 2}},
				{Addr: 0x2000, Data: []byte{3}},
			},
		},
		{
			name: "adjacent merged",
			in: []Segment{
				{Addr: 0x1000, Data: []byte{1, 2}},
				{Addr: 0x1002, Data: []byte{3}},
			},
			want: []Segment{
				{Addr: 0x1000, Data: []byte{1, 2, 3}},
			},
		},
		{
			name: "overlap merged",
			in: []Segment{
				{Addr: 0x1001, Data: []byte{2, 3, 4}},
				{Addr: 0x1000, Data: []byte{1, 2}},
			},
			want: []Segment{
				{Addr: 0x1000, Data: []byte{1, 2, 3, 4}},
			},
		},
		{
			name: "contained dropped",
			in: []Segment{
				{Addr: 0x1000, Data: []byte{1, 2, 3, 4}},
				{Addr: 0x1001, Data: []byte{2}},
			},
			want: []Segment{
				{Addr: 0x1000, Data: []byte{1, 2, 3, 4}},
			},
		},
		{
			name: "empty skipped",
			in:   []Segment{{Addr: 0x1000}},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeSegments(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mergeSegments mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	regs := map[string]uint64{"rip": 0x400af3}
	data := []byte{1, 2, 3, 4}
	snap := NewSnapshot(0x400af3, regs, []Segment{{Addr: 0x1000, Data: data}})

	regs["rip"] = 0
	data[0] = 0xff
	snap.Registers()["rip"] = 0
	snap.Segments()[0].Data[1] = 0xff

	if pc, _ := snap.Register("rip"); pc != 0x400af3 {
		t.Errorf("rip = %#x after caller mutation", pc)
	}
	got, ok := snap.Read(0x1000, 4)
	if !ok {
		t.Fatalf("Read failed")
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, got); diff != "" {
		t.Errorf("memory changed after caller mutation (-want +got):\n%s", diff)
	}
}

func TestSnapshotRead(t *testing.T) {
	snap := NewSnapshot(0, nil, []Segment{
		{Addr: 0x1000, Data: []byte{1, 2, 3, 4}},
		{Addr: 0x3000, Data: []byte{5, 6}},
	})

	tests := []struct {
		addr uint64
		n    int
		ok   bool
	}{
		{0x1000, 4, true},
		{0x1002, 2, true},
		{0x1003, 2, false},
		{0x0fff, 1, false},
		{0x3001, 1, true},
		{0x2000, 1, false},
		{0x3002, 1, false},
	}
	for _, tt := range tests {
		if _, ok := snap.Read(tt.addr, tt.n); ok != tt.ok {
			t.Errorf("Read(%#x, %d) ok = %v, want %v", tt.addr, tt.n, ok, tt.ok)
		}
	}
	if snap.Size() != 6 {
		t.Errorf("Size() = %d, want 6", snap.Size())
	}
}
