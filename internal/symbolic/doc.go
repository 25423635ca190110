// Package symbolic is a small symbolic execution engine over lifted basic
// blocks.
//
// Expressions are bit-vectors of at most 64 bits built from constants and
// variable bytes. Constructors fold constants and simplify extract/concat
// chains so that equality with a constant over a multi-byte value reduces to
// per-byte equalities, which the DomainSolver handles by domain propagation.
//
// A State holds registers and byte-addressed memory in persistent maps. The
// Executor steps states through a Program with a BFS or DFS searcher until a
// find address is reached.
package symbolic
