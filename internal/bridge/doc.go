// Package bridge forwards HTTP-shaped traffic between the engine and a
// remote browsing context over a message channel. Requests addressed to a
// virtual port (the /~/<port>/ URL shape) dispatch to registered virtual
// servers; outbound requests are tracked in a correlation table where every
// entry resolves exactly once, by response, stream completion, timeout, or
// consumer cancellation.
package bridge
