// Package jsonkv provides an embedded key-value store that keeps a JSON value
// tree per key, fully cached in memory and persisted to a single JSON file.
//
// # Overview
//
// [Store] is the authoritative key to value mapping. Every mutation is
// applied in memory, forwarded to each active [Index] and, when auto-save is
// enabled, followed by a full rewrite of the data file. Reads never touch the
// disk.
//
// # Persistence
//
// The data file is a pretty-printed JSON object written through a temporary
// file and an atomic rename, so a reader never observes a partial write.
// Before each overwrite the previous file is copied to a timestamped backup
// named <stem>.backup.<unix-seconds>. After each successful write a SHA-256
// integrity record of the snapshot is stored in the hash directory. The
// layout is described by [PersistedState].
//
// # Indexes
//
// An [Index] maps the 64-bit structural hash of a value (or of the value at
// a dotted field path) to the keys holding it. Indexes are hash buckets, not
// ordered trees: distinct values may share a bucket and lookups do not
// disambiguate collisions. Index snapshots are persisted in the index
// directory with their own integrity record and rebuilt whenever the data is
// loaded.
//
// # Recovery
//
// [Store.ValidateIntegrity] checks the data file syntax,
// [Store.VerifyDataIntegrity] checks the content against its integrity record
// and [Store.RepairFile] restores the newest backup that parses and verifies,
// or resets the store to empty when none does.
//
// # Advisory writes
//
// Secondary writes (index snapshots, the index catalog, backup integrity
// records, backup pruning and history commits) never fail the primary
// operation. Their failures are reported as [*AdvisoryError] to
// [Options.OnAdvisory], or logged as throttled warnings by default.
//
// # Concurrency
//
// A Store is safe for concurrent use by multiple goroutines. A single write
// lock covers the whole mutation sequence, from the in-memory change through
// the integrity record. Access to the same files from several processes is not
// supported.
package jsonkv
