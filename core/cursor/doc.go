// Package cursor implements the client-held resumption protocol: the
// compound (time, tag) cursor carried in HTTP conditional headers, the
// last-event-id cursor carried in the Last-Event-Id header, and the
// backtrack request encoded as a ".bN" suffix on channel names.
//
// Cursors are never stored server-side. Each request presents one, the
// resolver turns it into a start index per channel buffer, and the response
// reports the advanced cursor for the client to echo next time. Malformed
// cursor input always fails open to "nothing old" so resumption stays robust
// against clock skew and stale client state.
package cursor
