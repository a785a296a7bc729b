package publisher

import (
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/interfaces/typer"
)

// I is a delivery sink that can also receive routed messages, identifying
// itself via typer.T so a Publishers list can pick the right one out.
type I interface {
	typer.T
	Deliver(ev *event.E)
	Receive(msg typer.T)
}

// Publishers is a fan-out list of sinks a publish.S delivers through.
type Publishers []I
