// Package granary holds the column-oriented table container and the
// closed column type vocabulary shared by the rest of the library. The
// depot package exposes the public warehouse operations (gather, insert,
// listing); everything else is the plumbing underneath them: codecs,
// partition index, metadata store, file cache, and the backend registry.
package granary
