// Package ws bridges browser front ends to the terminal multiplexer over
// websockets.
//
// Every connection gets a ULID and a token-bucket limiter. Inbound frames are
// JSON requests ({"type":"terminal-write","id":"terminal-1","data":"bHMNCg=="});
// byte payloads are base64. The hub broadcasts every notification to all
// connected clients, and a new client first receives a terminal-list-response
// describing the live sessions. A client that cannot keep up is closed with
// 1013 (try again later); on reconnect it rebuilds its view from the new
// snapshot and each session's scrollback.
package ws
