// Package http exposes the read side of the multiplexer over REST.
//
// Routes:
//
//	GET    /                         service identity
//	GET    /health                   liveness with session and client counts
//	GET    /terminals                live sessions in creation order
//	GET    /terminals/:id/scrollback retained output, raw bytes
//	DELETE /terminals/:id            request termination (202)
//
// Interactive traffic goes over the websocket bridge in package ws.
package http
