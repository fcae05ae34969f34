// Package state keeps per-conversation sessions for Telegram bots.
//
// A Session holds the current conversation state, the values collected so far
// (in insertion order) and opaque JSON scratch data. Store implementations
// persist sessions keyed by chat id; Locker serializes work on one session
// while letting different sessions proceed in parallel.
package state
