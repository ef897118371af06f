// Package storage persists conversation records.
//
// Every Put is flushed to stable storage before it returns; a failed Put
// leaves the prior durable content (and the in-memory view) unchanged. On
// open, the last successfully written record set is reloaded verbatim.
//
// Two drivers:
//   - file: the whole key->record mapping is one JSON document, replaced
//     atomically (tmp + fsync + rename) on every write
//   - sqlite: one row per conversation, upserted per write
package storage
