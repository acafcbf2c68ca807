// Package broadcast fans analysis status messages out to observers.
//
// A Broadcaster keeps a bounded backlog of recent messages and a set of
// subscribers, each with its own buffered queue and delivery goroutine.
// Broadcast never blocks on a slow observer: when a subscriber's queue is
// full the message is dropped for that subscriber only and a warning is
// logged. Messages on one channel reach every subscriber in publish order,
// and a handler that fails or panics affects nobody else.
//
// ServeWS exposes the broadcaster to dashboard clients over a WebSocket.
package broadcast
