// Package rsp implements a client for the GDB remote serial protocol.
//
// It talks to a debug stub such as gdbserver over TCP and exposes the
// handful of operations needed to drive a live process: register and
// memory access, software breakpoints, continue/step with stop replies,
// interrupt, detach and kill.
//
// # Wire format
//
// Every request and reply is framed as $payload#xx where xx is the modulo 256
// sum of the payload bytes in lowercase hex. Payload bytes '$', '#', '}' and
// '*' are escaped as '}' followed by the byte XOR 0x20. Replies may use
// run-length encoding ('*' followed by a count character).
//
// Acknowledgments ('+' / '-') are used until QStartNoAckMode is accepted.
//
// # Usage
//
//	client, err := rsp.Dial(ctx, rsp.DefaultConfig(), logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Detach()
//
//	if err := client.SetBreakpoint(0x400af3); err != nil {
//	    return err
//	}
//	ev, err := client.Continue(ctx)
//
// A Client is not safe for concurrent use. Exactly one request is in flight
// at any time.
package rsp
