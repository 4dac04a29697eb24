// Package storage provides a minimal persistence layer used by the daemon.
//
// It currently supports:
//   - Audit log appends (operator actions on the receiver registry)
//   - A bounded delivery-failure log (surfaced by "watch status")
//
// Catalog snapshots are deliberately NOT persisted; change detection state
// lives only in process memory.
package storage
