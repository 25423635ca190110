package scenario

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/muurk/symbridge/internal/bridge"
	"github.com/muurk/symbridge/internal/handoff"
	"github.com/muurk/symbridge/internal/symbolic"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Buffer describes the symbolic buffer injected at the decision point.
type Buffer struct {
	// Name is the symbolic variable name
	Name string `yaml:"name"`

	// Base is the register holding the base address at the decision point
	Base string `yaml:"base"`

	// Offset is added to the base register
	Offset int64 `yaml:"offset"`

	// Bits is the buffer width, a multiple of 8
	Bits int `yaml:"bits"`
}

// Scenario is one handoff scenario from the catalog.
type Scenario struct {
	// Name identifies the scenario (e.g., "not_packed_elf64")
	Name string `yaml:"name"`

	// Description is a one line summary
	Description string `yaml:"description"`

	// Kind selects the run function from the registry
	Kind string `yaml:"kind"`

	// Binary is the path of the program gdbserver starts
	Binary string `yaml:"binary"`

	// Entry is the original entry point of the binary
	Entry uint64 `yaml:"entry"`

	// Decision is where the concrete run stops and symbolic exploration starts
	Decision uint64 `yaml:"decision"`

	// Find lists the addresses exploration tries to reach
	Find []uint64 `yaml:"find"`

	// Avoid lists the addresses whose paths are dropped
	Avoid []uint64 `yaml:"avoid"`

	// End is where the concrete run stops after the handoff
	End uint64 `yaml:"end"`

	// Labels names interesting addresses for display
	Labels map[uint64]string `yaml:"labels,omitempty"`

	// Buffer is the symbolic input
	Buffer Buffer `yaml:"buffer"`

	// Expected is the expected buffer contents, hex encoded
	Expected string `yaml:"expected"`

	// Searcher is the exploration order ("bfs" or "dfs")
	Searcher string `yaml:"searcher"`

	// Program is the lifted decision region
	Program symbolic.Program `yaml:"program"`
}

// Catalog holds the known scenarios.
type Catalog struct {
	Scenarios []*Scenario

	index map[string]*Scenario
}

type catalogContainer struct {
	Scenarios []*Scenario `yaml:"scenarios"`
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
	defaultCatalogErr  error
)

// LoadCatalog returns the embedded catalog. It is parsed once.
func LoadCatalog() (*Catalog, error) {
	defaultCatalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = ParseCatalog(catalogYAML)
	})
	return defaultCatalog, defaultCatalogErr
}

// ParseCatalog parses and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var container catalogContainer
	if err := yaml.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{
		Scenarios: container.Scenarios,
		index:     make(map[string]*Scenario),
	}
	for _, s := range c.Scenarios {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		if _, ok := c.index[s.Name]; ok {
			return nil, fmt.Errorf("duplicate scenario %s", s.Name)
		}
		c.index[s.Name] = s
	}
	return c, nil
}

// Get returns a scenario by name. A name of the form "scenario/searcher"
// returns a copy of the scenario using that searcher.
func (c *Catalog) Get(name string) (*Scenario, error) {
	base, variant, hasVariant := strings.Cut(name, "/")
	s, ok := c.index[base]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q (known: %s)", base, strings.Join(c.Names(), ", "))
	}
	if !hasVariant {
		return s, nil
	}
	if _, err := symbolic.NewSearcher(variant); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", base, err)
	}
	other := *s
	other.Name = name
	other.Searcher = variant
	return &other, nil
}

// Names returns the scenario names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.index))
	for name := range c.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Variants returns every runnable name: each scenario and one variant per
// searcher.
func (c *Catalog) Variants() []string {
	var out []string
	for _, name := range c.Names() {
		out = append(out, name, name+"/"+symbolic.SearcherBFS, name+"/"+symbolic.SearcherDFS)
	}
	return out
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name required")
	}
	if strings.Contains(s.Name, "/") {
		return fmt.Errorf("name must not contain '/'")
	}
	if s.Kind == "" {
		return fmt.Errorf("kind required")
	}
	if len(s.Find) == 0 {
		return fmt.Errorf("at least one find address required")
	}
	if _, err := symbolic.NewVariable(s.Buffer.Name, s.Buffer.Bits); err != nil {
		return err
	}
	if _, err := s.ExpectedBytes(); err != nil {
		return err
	}
	if _, err := symbolic.NewSearcher(s.Searcher); err != nil {
		return err
	}
	return s.Program.Compile()
}

// ExpectedBytes decodes the expected solution. It returns nil when the
// scenario has no expected solution.
func (s *Scenario) ExpectedBytes() ([]byte, error) {
	if s.Expected == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s.Expected)
	if err != nil {
		return nil, fmt.Errorf("invalid expected solution: %w", err)
	}
	if len(b) != s.Buffer.Bits/8 {
		return nil, fmt.Errorf("expected solution is %d bytes, buffer is %d", len(b), s.Buffer.Bits/8)
	}
	return b, nil
}

// Plan returns the handoff plan for the scenario.
func (s *Scenario) Plan() handoff.Plan {
	return handoff.Plan{
		Entry:    s.Entry,
		Decision: s.Decision,
		Variables: []bridge.VariableSpec{{
			Name:   s.Buffer.Name,
			Base:   s.Buffer.Base,
			Offset: s.Buffer.Offset,
			Bits:   s.Buffer.Bits,
		}},
		Find:  s.Find,
		Avoid: s.Avoid,
		End:   []uint64{s.End},
	}
}

// Label returns the label of addr, or its hex form.
func (s *Scenario) Label(addr uint64) string {
	if l, ok := s.Labels[addr]; ok {
		return fmt.Sprintf("%#x (%s)", addr, l)
	}
	return fmt.Sprintf("%#x", addr)
}
