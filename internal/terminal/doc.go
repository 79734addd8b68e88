// Package terminal multiplexes interactive shell sessions over pseudo-terminals.
//
// A front end addresses sessions by string identifier and talks to them with
// requests (create, write, execute, clear, resize, kill, list). The multiplexer
// answers with notifications carrying process output and lifecycle changes.
//
// Features:
//   - PTY support through creack/pty
//   - Multiple concurrent sessions with caller-chosen or generated ids
//   - Terminal resizing
//   - Bounded per-session scrollback
//   - Graceful kill (SIGHUP to the process group, then SIGKILL)
//   - Full teardown on shutdown
//
// Architecture:
//   - One goroutine runs the Multiplexer loop and owns the Registry
//   - Adapter callbacks post events onto a single FIFO channel, so output for a
//     session is delivered in order and always before its exit
//   - Each spawned process gets a reader, a writer, and a waiter goroutine; the
//     writer keeps blocking pty writes off the loop
//
// Example Usage:
//
//	adapter := terminal.NewPTYAdapter(terminal.PTYAdapterConfig{})
//	mux := terminal.NewMultiplexer(adapter, terminal.Config{})
//	go mux.Run(ctx)
//
//	_ = mux.Submit(ctx, terminal.Request{Type: terminal.RequestCreate})
//	for n := range mux.Notifications() {
//		// forward n to the front end
//	}
package terminal
