package http

import (
	"time"

	xutil "AgroPulse/pkg/util"
)

// ParseTime tries YYYY-MM-DD, RFC3339, RFC3339Nano and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }
