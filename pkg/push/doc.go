// Package push delivers server initiated responses to the client over a
// long lived transport.
//
// Each UI with push enabled owns one Connection. A Connection is a small
// state machine driven by Handle:
//
//	None ──Connect──▶ Connected ──Lost──▶ Reconnecting ──Connect──▶ Connected
//	  any ──Disconnect──▶ Disconnected
//
// Push while not connected is remembered and flushed on the next Connect.
// Push must be called with the session lock held.
//
// Transports are abstracted as Resource. WebSocketResource carries
// length-prefixed messages over gorilla/websocket in both directions;
// HTTPResource serves long-polling and streaming responses.
package push
