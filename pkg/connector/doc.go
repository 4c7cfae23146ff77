// Package connector models the server-side UI tree as a graph of connectors.
//
// A connector is the server half of a client-visible component. It owns
// shared state, a queue of outbound client RPC calls and a dirty flag held by
// the Tracker of its UI. The Tracker is the single owner of the dirty set,
// the per-connector diff state and the stream variables registered for
// uploads. All Tracker methods must be called with the session lock held.
//
// Connector types are registered once in a Registry that records each type's
// declared supertype, client dependencies and server RPC methods:
//
//	reg := connector.NewRegistry()
//	reg.RegisterType(connector.TypeInfo{Name: "demo.Button", Super: "demo.Component"})
//	reg.RegisterRPC("demo.Button", "ButtonServerRpc", "click",
//	    connector.Method1(func(b *Button, details ClickDetails) error {
//	        return b.fireClick(details)
//	    }))
//
// RPC dispatch uses the registered closures; there is no reflection-based
// method lookup.
package connector
