package cmd

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Table cells shared by the artifact and runs listings.

func sizeCell(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

func ageCell(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
