package rsp

import (
	"bytes"
	"fmt"
	"strconv"
)

// StopReason classifies a stop reply.
type StopReason int

const (
	// StopSignal is a stop caused by a signal (T or S reply)
	StopSignal StopReason = iota
	// StopBreakpoint is a SIGTRAP stop, usually a software breakpoint
	StopBreakpoint
	// StopExited means the process exited normally (W reply)
	StopExited
	// StopTerminated means the process was killed by a signal (X reply)
	StopTerminated
)

// String returns the human-readable name for the reason.
func (r StopReason) String() string {
	switch r {
	case StopSignal:
		return "signal"
	case StopBreakpoint:
		return "breakpoint"
	case StopExited:
		return "exited"
	case StopTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// sigtrap is the signal number gdbserver reports for breakpoints and steps.
const sigtrap = 5

// StopEvent is a parsed stop reply.
type StopEvent struct {
	Reason StopReason
	// Signal is the stop or termination signal
	Signal uint8
	// ExitStatus is set for StopExited
	ExitStatus int
	// ThreadID is the stopping thread, if reported
	ThreadID string
	// Kind is the reason key reported by the stub (swbreak, hwbreak, watch, ...)
	Kind string
	// Expedited holds register values sent along with the stop reply, by regnum
	Expedited map[int]uint64
}

// Exited reports whether the process is gone.
func (ev StopEvent) Exited() bool {
	return ev.Reason == StopExited || ev.Reason == StopTerminated
}

// Err returns a ProcessExitedError for exit stops and nil otherwise.
func (ev StopEvent) Err() error {
	switch ev.Reason {
	case StopExited:
		return &ProcessExitedError{Status: ev.ExitStatus}
	case StopTerminated:
		return &ProcessExitedError{Signal: int(ev.Signal)}
	}
	return nil
}

// parseStopReply parses a T, S, W or X reply. O replies are console output
// and are reported with output != nil so the caller keeps waiting.
func parseStopReply(resp []byte) (ev StopEvent, output []byte, err error) {
	if len(resp) == 0 {
		return ev, nil, fmt.Errorf("empty stop reply")
	}
	switch resp[0] {
	case 'T', 'S':
		if len(resp) < 3 {
			return ev, nil, fmt.Errorf("malformed stop reply %q", resp)
		}
		sig, err := strconv.ParseUint(string(resp[1:3]), 16, 8)
		if err != nil {
			return ev, nil, fmt.Errorf("malformed stop reply %q: %w", resp, err)
		}
		ev.Signal = uint8(sig)
		ev.Reason = StopSignal
		if sig == sigtrap {
			ev.Reason = StopBreakpoint
		}
		if resp[0] == 'T' {
			parseStopPairs(resp[3:], &ev)
		}
		return ev, nil, nil

	case 'W', 'X':
		end := bytes.IndexByte(resp, ';')
		if end < 0 {
			end = len(resp)
		}
		status, err := strconv.ParseUint(string(resp[1:end]), 16, 8)
		if err != nil {
			return ev, nil, fmt.Errorf("malformed exit reply %q: %w", resp, err)
		}
		if resp[0] == 'W' {
			ev.Reason = StopExited
			ev.ExitStatus = int(status)
		} else {
			ev.Reason = StopTerminated
			ev.Signal = uint8(status)
		}
		return ev, nil, nil

	case 'O':
		if len(resp) == 1 {
			return ev, []byte{}, nil
		}
		data, err := decodeHex(resp[1:])
		if err != nil {
			return ev, nil, fmt.Errorf("malformed console output: %w", err)
		}
		return ev, data, nil
	}
	return ev, nil, fmt.Errorf("unexpected stop reply %q", resp)
}

// parseStopPairs reads the key:value; list of a T reply.
func parseStopPairs(buf []byte, ev *StopEvent) {
	for len(buf) > 0 {
		colon := bytes.IndexByte(buf, ':')
		if colon < 0 {
			return
		}
		key := string(buf[:colon])
		buf = buf[colon+1:]

		var value []byte
		if semi := bytes.IndexByte(buf, ';'); semi < 0 {
			value, buf = buf, nil
		} else {
			value, buf = buf[:semi], buf[semi+1:]
		}

		switch key {
		case "thread":
			ev.ThreadID = string(value)
		case "swbreak", "hwbreak", "watch", "rwatch", "awatch", "library", "replaylog", "fork", "vfork", "exec":
			ev.Kind = key
		case "reason":
			ev.Kind = string(value)
		default:
			regnum, err := strconv.ParseUint(key, 16, 32)
			if err != nil {
				continue
			}
			v, err := decodeLittleEndian(value)
			if err != nil {
				continue
			}
			if ev.Expedited == nil {
				ev.Expedited = make(map[int]uint64)
			}
			ev.Expedited[int(regnum)] = v
		}
	}
}
