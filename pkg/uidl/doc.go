// Package uidl writes server to client responses.
//
// A response describes the closure of the dirty set of one UI. Fields are
// written in a fixed order because the client processes them in order:
//
//	syncId, changes, state, types, hierarchy, rpc, meta, resources,
//	typeMappings, typeInheritanceMap, scriptDependencies,
//	styleDependencies, timings
//
// Type mappings and their dependencies are sent once per UI until a full
// repaint, supertypes before subtypes.
package uidl
