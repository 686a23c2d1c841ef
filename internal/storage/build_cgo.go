//go:build sqlite_vec && !purego

package storage

// This file is compiled when building with CGO and the sqlite_vec tag.
// The mattn driver is registered under its own name with a connect hook
// that installs vec_distance_cosine, so distance ranking runs in SQL.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec,sqlite_fts5" ./...

import (
	"database/sql"

	"github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3_protocolqa"

	// VectorExtensionAvailable indicates if vector distance runs in SQL
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("vec_distance_cosine", cosineDistanceBlobs, true)
		},
	})
}
