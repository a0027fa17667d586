// Package stores provides the run ledger: a SQLite database, migrated on
// open, that records every depletion and recycle run together with its
// steps and cycles so finished and interrupted runs can be inspected
// after the fact.
package stores
