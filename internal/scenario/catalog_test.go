package scenario

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/muurk/symbridge/internal/bridge"
	"github.com/muurk/symbridge/internal/handoff"
)

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	if diff := cmp.Diff([]string{"not_packed_elf64"}, c.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}

	s, err := c.Get("not_packed_elf64")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	want := handoff.Plan{
		Entry:     0x4009b2,
		Decision:  0x400af3,
		Variables: []bridge.VariableSpec{{Name: "arg0", Base: "rbp", Offset: -0xc0, Bits: 256}},
		Find:      []uint64{0x400bb6},
		Avoid:     []uint64{0x400b87, 0x400bc2, 0x400bd6},
		End:       []uint64{0x400c03},
	}
	if diff := cmp.Diff(want, s.Plan()); diff != "" {
		t.Errorf("Plan mismatch (-want +got):\n%s", diff)
	}
	if got := s.Label(0x400bc2); got != "0x400bc2 (venv detected)" {
		t.Errorf("Label = %q", got)
	}
	if addrs := s.Program.Addrs(); len(addrs) != 3 {
		t.Errorf("program has %d blocks, want 3", len(addrs))
	}
}

func TestCatalogGetVariant(t *testing.T) {
	c, err := LoadCatalog()
	if err != nil {
		t.Fatal(err)
	}

	s, err := c.Get("not_packed_elf64/dfs")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if s.Searcher != "dfs" || s.Name != "not_packed_elf64/dfs" {
		t.Errorf("variant = %s/%s", s.Name, s.Searcher)
	}
	base, _ := c.Get("not_packed_elf64")
	if base.Searcher != "bfs" {
		t.Errorf("variant modified the catalog entry: %s", base.Searcher)
	}

	for _, name := range []string{"missing", "not_packed_elf64/random"} {
		if _, err := c.Get(name); err == nil {
			t.Errorf("Get(%q) succeeded", name)
		}
	}
}

func TestParseCatalogRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no kind", `scenarios: [{name: a, find: [1], buffer: {name: b, bits: 8}, program: {blocks: []}}]`},
		{"no find", `scenarios: [{name: a, kind: k, buffer: {name: b, bits: 8}, program: {blocks: []}}]`},
		{"bad bits", `scenarios: [{name: a, kind: k, find: [1], buffer: {name: b, bits: 7}, program: {blocks: []}}]`},
		{"short expected", `scenarios: [{name: a, kind: k, find: [1], expected: "00", buffer: {name: b, bits: 16}, program: {blocks: []}}]`},
		{"bad searcher", `scenarios: [{name: a, kind: k, find: [1], searcher: x, buffer: {name: b, bits: 8}, program: {blocks: []}}]`},
		{"slash", `scenarios: [{name: a/b, kind: k, find: [1], buffer: {name: b, bits: 8}, program: {blocks: []}}]`},
		{"duplicate", `scenarios: [{name: a, kind: k, find: [1], buffer: {name: b, bits: 8}}, {name: a, kind: k, find: [1], buffer: {name: b, bits: 8}}]`},
		{"bad program", `scenarios: [{name: a, kind: k, find: [1], buffer: {name: b, bits: 8}, program: {blocks: [{addr: 1}]}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(tt.src)); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}
