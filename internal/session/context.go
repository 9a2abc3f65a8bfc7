// Package session keeps track of the live connections editing each design.
package session

// Context is one live client connection.
type Context interface {
	// ID is unique per connection.
	ID() string
	// Send queues msg for delivery. It must not block on a slow peer.
	Send(msg []byte) error
	// Close terminates the connection.
	Close() error
}
