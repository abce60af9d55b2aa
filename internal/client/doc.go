// Package client owns the gateway's side of visitor real-time connections.
//
// The Registry maps a session id to at most one live connection. Push never
// blocks: it queues the event for the connection's writer goroutine and
// reports Delivered, or NoConnection when the visitor is offline. Events for
// one session are written in the order they were pushed.
//
// WebSocketConn adapts a gorilla/websocket connection to the Conn interface.
package client
