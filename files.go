/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"github.com/dustin/go-humanize"
)

// humanReadableSize formats photo and memory sizes in SI units.
func humanReadableSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.Bytes(uint64(-bytes))
	}

	return humanize.Bytes(uint64(bytes))
}
