// Package lua runs configuration scripts in a sandboxed gopher-lua state.
//
// A State opens only the base, table, string and math libraries and
// removes the functions that load code from disk or strings:
//
//	dofile, loadfile, load, loadstring, require
//
// gopher-lua states are not goroutine-safe. A State serializes its own
// calls, but callers that run scripts from many goroutines should create
// one State per call.
//
// Values cross the boundary through a Bridge, which converts Lua tables to
// configuration trees (map[string]any and []any) and back.
package lua
