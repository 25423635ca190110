// Package server streams handoff phase events to websocket clients.
//
// A run started with --events-addr publishes every controller transition
// as a JSON object on ws://<addr>/events:
//
//	{"phase":"symbolic-exploring","from":"concrete-stopped","pc":4197107,"time":"..."}
//
// New clients first receive the recent history, so a viewer attached mid-run
// sees the phases it missed. Slow clients are dropped rather than stalling
// the controller, whose observers run synchronously.
//
// # Usage Example
//
//	srv := server.New(server.Config{Addr: "127.0.0.1:8765"})
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(context.Background())
//
//	ctrl, err := handoff.Open(ctx, cfg, engine, logger, handoff.WithObserver(srv.Observer()))
package server
