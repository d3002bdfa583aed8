// Package report exports tracking-table snapshots to a blob store and reads
// them back.
//
// Each tracking table becomes one blob, encoded with a codec from package
// codec and compressed with LZ4 or ZSTD:
//
//	names, err := report.Export(ctx, store, blobs, report.Options{
//	    Prefix:      "2024-05-01/",
//	    Compression: report.CompressionZSTD,
//	})
//	snap, err := report.Load(ctx, blobs, names[0])
package report
