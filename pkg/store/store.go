// Package store opens the backing connections of the server: the document
// store and the optional Redis connection.
package store

import "context"

// Adapter is the lifecycle contract shared by every connection the server
// holds. Health checks and shutdown hooks are built on it.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}
