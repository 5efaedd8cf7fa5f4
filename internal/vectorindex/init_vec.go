//go:build sqlite_vec && cgo

package vectorindex

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// driverName selects the cgo-backed mattn/go-sqlite3 driver so the
// sqlite-vec extension registered below is actually available; the
// non-cgo build (default) uses modernc.org/sqlite instead (see fallback.go).
const driverName = "sqlite3"

func init() {
	// Registers the sqlite-vec extension as auto-loadable for the
	// mattn/go-sqlite3 cgo driver. Fallback.Search does not call the
	// extension's functions and still performs a brute-force scan.
	vec.Auto()
}
