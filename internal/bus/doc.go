// Package bus is the per-tab publish/subscribe hub that decouples page
// controllers and components.
//
// Publish is synchronous: every handler registered for the exact event
// type runs on the calling goroutine, in subscription order, against a
// snapshot of the handler list taken when Publish starts. Handlers may
// subscribe or unsubscribe (themselves or others) while a publish is in
// flight. A panicking handler is recovered and logged; the remaining
// handlers still run.
//
// Event types follow "<domain>:<action>". Known types carry a fixed
// payload struct (see the Type constants and NewX constructors); other
// types travel as Message. With Options.Debug set, the bus keeps a
// bounded History and warns when a known type is published with the
// wrong payload struct.
package bus
