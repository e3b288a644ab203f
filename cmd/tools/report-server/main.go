// Command report-server serves stored analysis runs over HTTP.
//
// It lists the runs recorded in a run database and renders per-run charts:
// the model-selection elbow curve and cluster size distributions, without
// re-running any analysis.
//
// Usage:
//
//	go run ./cmd/tools/report-server [flags]
//
// Flags:
//
//	-db      Path to the SQLite run database (default: runs.db)
//	-listen  Listen address (default: :8080)
package main

import (
	"flag"
	"log"
	"net/http"

	storage "github.com/banshee-data/singlecell.report/internal/storage/sqlite"
)

func main() {
	dbPath := flag.String("db", "runs.db", "Path to the SQLite run database")
	listen := flag.String("listen", ":8080", "Listen address")
	flag.Parse()

	db, err := storage.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open run database: %v", err)
	}
	defer db.Close()

	srv := newServer(storage.NewRunStore(db))

	log.Printf("Serving runs from %s on %s", *dbPath, *listen)
	if err := http.ListenAndServe(*listen, srv.routes()); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
