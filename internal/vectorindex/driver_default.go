//go:build !(sqlite_vec && cgo)

package vectorindex

// driverName selects the pure-Go modernc.org/sqlite driver when the
// cgo-accelerated sqlite-vec extension isn't built in.
const driverName = "sqlite"
