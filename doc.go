// Package stowfs presents flat object stores (S3, legacy S3, Swift, Azure
// Blob, local directories) as hierarchical filesystems.
//
// The namespace lives entirely in a metadata cache. Every file row gets a
// numeric id, and its content is stored under an id derived key such as
// "urn:oid:42". Renames and moves only touch the cache; the backend never
// learns about paths.
//
// # Key Components
//
//   - ObjectStore: Flat key to blob interface implemented by each backend
//   - Cache: Metadata rows for one storage (SQLite, PostgreSQL)
//   - Storage: The filesystem facade combining an ObjectStore and a Cache
//   - WriteHandle: Local buffer uploaded on Close
//   - MultipartUploader: Bounded memory streaming for large objects
//   - Scanner: Repairs rows left with an incomplete size
//   - LegacySigner: S3 signature version 2 for old S3 compatible services
//
// # Consistency
//
// Rows are committed before their object is written and removed only after
// their object is deleted. A crash therefore leaves at worst a row with an
// incomplete size (-1), which Scanner.BackgroundScan repairs, or an orphan
// object, which Reconcile reports.
//
// # Example Usage
//
//	st, err := stowfs.NewStorage(ctx, store, db, stowfs.Options{UserID: "alice"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := st.Mkdir(ctx, "docs"); err != nil {
//	    log.Fatal(err)
//	}
//
//	w, err := st.OpenWrite(ctx, "docs/a.txt", "w")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_, _ = io.WriteString(w, "hello")
//	if err := w.Close(); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Rename is a cache move; the object key stays the same.
//	err = st.Rename(ctx, "docs/a.txt", "docs/b.txt")
package stowfs
