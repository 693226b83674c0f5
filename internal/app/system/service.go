// Package system runs the application's background components.
package system

import "context"

// Service is a component with a start/stop lifecycle. Start must not block;
// Stop waits for background work to finish or for ctx to end.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
