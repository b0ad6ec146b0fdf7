// Package refresh drives the focus/online-triggered revalidation of
// observed endpoints, abstracting the two DOM signals the original
// browser design relies on behind an injectable EventSource.
package refresh

// EventSource is the source of the two external signals the refresh
// orchestrator reacts to: the application regaining focus/visibility,
// and the network coming back online. Both On* methods may be called
// any number of times with different callbacks; each returns a function
// that removes that specific callback.
type EventSource interface {
	OnFocus(fn func()) (unregister func())
	OnOnline(fn func()) (unregister func())
}
