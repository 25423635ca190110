package symbolic

import (
	"fmt"
)

// Searcher names.
const (
	SearcherBFS = "bfs"
	SearcherDFS = "dfs"
)

// Searcher holds the active states of an exploration and chooses the next
// one to step.
type Searcher interface {
	Push(*State)
	Pop() *State
	Len() int
}

// NewSearcher returns a searcher by name. An empty name selects BFS.
func NewSearcher(name string) (Searcher, error) {
	switch name {
	case "", SearcherBFS:
		return &BreadthFirstSearcher{}, nil
	case SearcherDFS:
		return &DepthFirstSearcher{}, nil
	default:
		return nil, fmt.Errorf("unknown searcher %q", name)
	}
}

// BreadthFirstSearcher steps states in the order they were pushed.
type BreadthFirstSearcher struct {
	states []*State
}

func (s *BreadthFirstSearcher) Push(state *State) { s.states = append(s.states, state) }
func (s *BreadthFirstSearcher) Len() int          { return len(s.states) }

func (s *BreadthFirstSearcher) Pop() *State {
	if len(s.states) == 0 {
		return nil
	}
	state := s.states[0]
	s.states[0] = nil
	s.states = s.states[1:]
	return state
}

// DepthFirstSearcher steps the most recently pushed state first.
type DepthFirstSearcher struct {
	states []*State
}

func (s *DepthFirstSearcher) Push(state *State) { s.states = append(s.states, state) }
func (s *DepthFirstSearcher) Len() int          { return len(s.states) }

func (s *DepthFirstSearcher) Pop() *State {
	n := len(s.states)
	if n == 0 {
		return nil
	}
	state := s.states[n-1]
	s.states[n-1] = nil
	s.states = s.states[:n-1]
	return state
}
