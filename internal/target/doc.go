// Package target models a live process under a debug stub.
//
// A Session owns the process between Attach and Detach and is always in
// exactly one mode:
//
//	concrete  --EnterSymbolic-->  symbolic
//	symbolic  --LeaveSymbolic-->  concrete
//	any       --Detach-------->   detached
//
// Live memory and registers can only be read or written in concrete mode.
// RunUntil resumes the process to a set of addresses and returns an
// immutable Snapshot of the registers, the declared memory ranges and the
// stack pages around the stack and frame pointers.
//
// Every resume or write bumps the session generation; a Snapshot from an
// older generation is stale and CheckFresh rejects it.
package target
