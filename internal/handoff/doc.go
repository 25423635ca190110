// Package handoff sequences a process between concrete execution under a
// debug stub and symbolic exploration.
//
// The lifecycle is
//
//	attached -> concrete-running -> concrete-stopped -> symbolic-exploring
//	  -> symbolic-found | symbolic-avoided | symbolic-errored
//	  -> concrete-resuming -> concrete-running -> ... -> detached
//
// Only a found exploration continues to concrete-resuming. Avoided and
// errored explorations are abandoned back to concrete-stopped without
// touching the process. Policy turns an exploration into a tagged Outcome;
// callers switch on Outcome.Kind and report OutcomeInapplicable as a skip.
//
// WithController is the scoped way to use a Controller: the process is
// detached on every exit path.
package handoff
