// Package errors provides structured, coded error messages for the uisync
// command line and logs.
//
// Every runtime failure belongs to a category:
//   - protocol: malformed or oversized client messages, framing errors
//   - security: CSRF key or push id mismatches
//   - application: panics and failures in connector code
//   - resolution: sessions, UIs or connectors that no longer exist
//   - transport: push connection failures
//   - upload: streaming failures
//   - config: invalid uisync.json or flags
//
// Each category owns a block of codes (E100 to E169). Classify maps an
// error returned by the runtime packages to its code:
//
//	if err := srv.Run(); err != nil {
//	    errors.PrintError(errors.Classify(err))
//	}
//
// Format renders the error for a terminal:
//
//	ERROR E131: UI not found
//
//	  The UI id in the request does not belong to the session.
//
//	  Hint: Reload the page to create a new UI.
package errors
