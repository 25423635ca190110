package main

import (
	"fmt"
	"strings"
	"testing"

	"github.com/muurk/symbridge/internal/config"
	"github.com/muurk/symbridge/internal/handoff"
	"github.com/muurk/symbridge/internal/scenario"
	"github.com/muurk/symbridge/internal/symbolic"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "0x601000", want: 0x601000},
		{in: "4096", want: 4096},
		{in: "0x", wantErr: true},
		{in: "rsp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAddress(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAddress(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseAddress(%q) = %#x, want %#x", tt.in, got, tt.want)
			}
		})
	}
}

func TestSelectScenario(t *testing.T) {
	tests := []struct {
		name       string
		arg        string
		flag       string
		configured string
		want       string
	}{
		{name: "scenario default", arg: "not_packed_elf64", want: "bfs"},
		{name: "variant", arg: "not_packed_elf64/dfs", want: "dfs"},
		{name: "flag beats variant", arg: "not_packed_elf64/dfs", flag: "bfs", want: "bfs"},
		{name: "config file", arg: "not_packed_elf64", configured: "dfs", want: "dfs"},
		{name: "variant beats config file", arg: "not_packed_elf64/bfs", configured: "dfs", want: "bfs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runSearcher = tt.flag
			defer func() { runSearcher = "" }()

			reg := config.NewRegistry()
			if tt.configured != "" {
				reg.Explore = &config.ExplorePrefs{Searcher: tt.configured}
			}
			sc, err := selectScenario(&settings{registry: reg}, tt.arg)
			if err != nil {
				t.Fatalf("selectScenario failed: %v", err)
			}
			if sc.Searcher != tt.want {
				t.Errorf("Searcher = %s, want %s", sc.Searcher, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	sc := &scenario.Scenario{Name: "s"}

	if summarize(sc, nil) != nil {
		t.Error("nil result should give nil summary")
	}

	skipped := summarize(sc, &scenario.Result{Outcome: handoff.OutcomeInapplicable, Reason: "nothing found"})
	if !skipped.Skipped || skipped.Reason != "nothing found" {
		t.Errorf("skipped summary = %+v", skipped)
	}

	found := summarize(sc, &scenario.Result{
		Outcome:  handoff.OutcomeFound,
		Solution: []byte{0x0a, 0x00},
		Expected: []byte{0x0a, 0x00},
		Matched:  true,
	})
	if found.Skipped {
		t.Error("found result should not be skipped")
	}
	if found.Details["Solution"] != "0a00" || found.Details["Matched"] != "true" {
		t.Errorf("details = %v", found.Details)
	}
}

func TestRunHelpMatchesDefaults(t *testing.T) {
	limits := symbolic.DefaultConfig()
	flags := map[string]string{
		"max-steps":  fmt.Sprintf("(default: %d)", limits.MaxSteps),
		"max-states": fmt.Sprintf("(default: %d)", limits.MaxStates),
		"max-nodes":  fmt.Sprintf("(default: %d)", symbolic.DefaultMaxNodes),
	}
	for name, want := range flags {
		f := runCmd.Flags().Lookup(name)
		if f == nil {
			t.Fatalf("flag --%s missing", name)
		}
		if !strings.Contains(f.Usage, want) {
			t.Errorf("--%s usage = %q, want %q", name, f.Usage, want)
		}
	}

	if !strings.Contains(runCmd.Long, "reported as failed and exits 1") {
		t.Errorf("run help does not say failed explorations exit 1:\n%s", runCmd.Long)
	}
	if strings.Contains(runCmd.Long, "finds nothing") {
		t.Errorf("run help reports empty explorations as not applicable:\n%s", runCmd.Long)
	}
}
