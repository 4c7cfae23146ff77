// Package server ties the synchronization runtime to HTTP.
//
// A Server owns the session manager and mounts the protocol endpoints on a
// chi router:
//
//	POST /UIDL/?v-uiId=N        client bursts, answered with a UIDL response
//	POST /INIT                  creates (or preserves) a UI and returns its
//	                            initial UIDL and security key
//	POST /HEARTBEAT/?v-uiId=N   keeps a UI alive; 404 or 410 when it is gone
//	GET  /PUSH?v-uiId=N         push handshake, WebSocket or suspended HTTP
//	POST /PUSH?v-uiId=N         client messages for HTTP push transports
//	POST /APP/UPLOAD/...        file uploads into stream variables
//
// # Sessions and locking
//
// Every Session has a single lock. All access to UI and connector state,
// the dirty sets and the push connections happens with it held. Request
// handlers hold the lock while parsing, dispatching and writing the
// response, so the response always matches the state that was marked
// clean. Code running outside a request uses Session.Access:
//
//	sess.Access(func() {
//	    label.SetText("done")
//	})
//
// Tasks queued with Access run before the next response is written, or
// immediately when the lock is free. Unlocking a session pushes pending
// changes of UIs in automatic push mode.
//
// # Errors
//
// Protocol and security errors in a client message are answered with a
// critical notification asking the client to reload. Errors raised by
// connector code are routed to the connector's error handler, falling back
// to the session error handler, and never abort a burst.
package server
