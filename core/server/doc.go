// Package server runs the broker's HTTP listener: environment-based
// configuration, optional TLS, and a single blocking Run entry point with
// graceful drain, shaped for an errgroup. The write timeout is disabled by
// default because the broker holds streaming and long-polling responses
// open; connection lifetime is bounded by the delivery layer's own
// deadlines instead.
package server
