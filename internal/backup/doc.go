// Package backup captures database archives and stores them durably.
//
// The Engine scans a data source, encodes the result with the archive codec
// and hands the payload to a Store. Archives are either full snapshots or
// deltas recorded against a base archive; Snapshot materializes a delta by
// replaying its base chain. Store implementations cover the local
// filesystem, S3, Google Cloud Storage and Azure Blob Storage, and the
// Retention policy prunes old archives without ever breaking a delta chain.
//
// Example usage:
//
//	store, err := backup.NewLocalStore("/var/lib/dbrewind", 0o755)
//	if err != nil {
//		return err
//	}
//	engine := backup.NewEngine(registry, store, codec, logger)
//
//	meta, err := engine.Backup(ctx, "3", src, "")
//	if err != nil {
//		return fmt.Errorf("backup failed: %w", err)
//	}
//
//	// Later: a delta on top of the snapshot.
//	_, err = engine.Backup(ctx, "3", src, meta.ID)
package backup
