//go:build !sqlite_vec

package store

import (
	_ "modernc.org/sqlite"
)

// Pure-Go build: modernc driver, no sqlite-vec extension. Dense search
// degrades to brute-force cosine scoring over stored embedding blobs.
const driverName = "sqlite"
