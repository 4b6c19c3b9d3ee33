// Package storage is the durable key-value layer under the reminder state.
//
// Every backend provides:
//   - Get/Put/Delete of opaque values by string key
//   - Audit log appends (state-changing reminder actions)
//
// Drivers: memory, file (jsonl journal + snapshot), sqlite, diskv, postgres.
package storage
