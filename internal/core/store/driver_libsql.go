//go:build cgo

package store

// go-libsql requires cgo; without it the libsql driver is not registered.
import _ "github.com/tursodatabase/go-libsql"
