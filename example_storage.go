package kanshilog

// Storage Backend Comparison
//
// This package provides two storage backends for the local log store:
//
// 1. SQLite Storage (sqlite_store.go) - DEFAULT
//    - WAL mode, indexed queries on timestamp/level/session/source
//    - Capacity enforcement inside the save transaction
//    - Best for: normal operation; chosen automatically by Open()
//
// 2. JSON File Storage (file_store.go) - FALLBACK
//    - Single JSON-array file, atomic rewrite on every mutation
//    - In-memory filtering, no external dependencies beyond the codec
//    - Best for: environments where the SQLite database cannot be opened
//
// Open() is the capability probe: it tries SQLite and degrades silently
// to the file store. Which backend is active is visible only through
// Stats().Backend.
//
// Usage:
//
//   store, err := kanshilog.Open("/var/lib/kanshi/logs", kanshilog.StoreOptions{MaxEntries: 1000})
//   if err != nil {
//       log.Fatal(err)
//   }
//   defer store.Close()
//
//   logger := kanshilog.NewLogger(store, kanshilog.WithSource("dashboard"))
//   logger.Info(ctx, "camera feed started", kanshilog.String("device", "cam0"))
//
//   exporter := kanshilog.NewExporter(store, "/var/lib/kanshi/exports")
//   path, _ := exporter.DownloadTodaysLogs(ctx, kanshilog.FormatCSV)
//
// Or wire everything through the composition root:
//
//   sys, err := kanshilog.NewSystem(kanshilog.Config{
//       Dir:     "/var/lib/kanshi/logs",
//       Source:  "dashboard",
//       SyncURL: "https://logs.example.com",
//   })
//   if err != nil {
//       log.Fatal(err)
//   }
//   defer sys.Close()
//   go sys.Run(ctx) // periodic sync
//
// Both backends honour the same invariant: the stored entry count never
// exceeds the configured maximum; when it would, the entries are ordered
// by timestamp and only the most recent N are retained.
