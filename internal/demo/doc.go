// Package demo provides the sample application served by "uisync serve":
// a counter, a clock updated through server push, and an upload target.
//
// It doubles as a reference for writing connectors. Each connector embeds
// connector.Base, exposes its shared state through State and registers its
// server methods in NewRegistry.
package demo
