//go:build !linux

package sysmem

import "math"

// FreeMB has no portable implementation outside Linux's sysinfo(2). It
// reports an effectively unlimited floor so the RAM gate degrades to a
// no-op rather than blocking dispatch on platforms without a cheap free-
// memory syscall.
func FreeMB() (int, error) {
	return math.MaxInt32, nil
}
