// Package memory implements the bounded conversation window owned by each
// session agent.
//
// Invariants:
// - The window never holds more than 2*W messages (W exchanges).
// - Eviction is FIFO: the oldest messages are dropped first.
// - Export followed by Import replays entries through Append, so a round
//   trip reproduces the log truncated exactly as incremental appends would
//   have truncated it.
package memory
