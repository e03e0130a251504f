// Package delivery layers the five transport-specific delivery modes over
// the broker: persistent streaming, long-polling, plain polling, event
// stream (SSE) and a bidirectional websocket. All modes share one engine
// skeleton (resolve start positions, emit the merged catch-up, then either
// close or await new messages) and differ only in blocking semantics and
// wire framing.
//
// The subscriber is registered before the buffer snapshot is taken, so no
// message published around connect time can be lost; the overlap window is
// deduplicated by message id instead.
package delivery
