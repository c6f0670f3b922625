// Package triggers defines the trigger sources that feed the engine: external
// systems that observe something happening and publish a trigger-fired event
// on the bus for workers to match against workflow triggers.
package triggers

import "context"

// Source is a running trigger source. Start is non-blocking; implementations
// consume or schedule in the background until Stop.
type Source interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
