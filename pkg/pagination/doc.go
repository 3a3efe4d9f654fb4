// Package pagination provides parallel page fetching for the ALM tests collection.
//
// ALM returns the collection in pages addressed by a 1-based start-index and a
// page-size capped at 100. This package computes the start indices from the
// TotalResults count probe and runs one fetch task per page on a bounded
// worker pool.
//
// Example usage:
//
//	cfg := pagination.DefaultConfig()
//	fetcher := pagination.NewBatchFetcher(almClient, cfg)
//	table := fetcher.Run(ctx, fieldMapping, total)
//
// The batch fetcher:
//   - Queues one task per start index (1, 1+P, 1+2P, ...)
//   - Spawns a worker pool (default 5 workers)
//   - Collects results in submission order, never completion order
//   - Drops failed pages with a warning (no retry)
//   - Advances progress by the page size after each task resolves
package pagination
