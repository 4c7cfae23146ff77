// Package rpc decodes client bursts into invocations and applies them to
// the connector tree.
//
// A burst is parsed in one pass: the security token is checked, the payload
// unescaped and every 4-tuple [connectorId, interface, method, params]
// turned into either a MethodInvocation or a LegacyInvocation. Consecutive
// legacy invocations for the same connector are merged. Parameters are
// decoded while parsing, so a malformed parameter fails the whole burst.
//
// The Dispatcher applies invocations in order. Errors raised by connector
// code are routed to error handlers and never abort the burst.
package rpc
