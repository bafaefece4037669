//go:build linux

package sysmem

import "golang.org/x/sys/unix"

// FreeMB returns currently available system memory in megabytes via
// sysinfo(2). Mirrors the teacher's GOOS-gated file split for
// platform-specific syscalls (internal/instance/windows.go), just on
// the unix side of golang.org/x/sys rather than the windows side.
func FreeMB() (int, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	freeBytes := uint64(info.Freeram) * uint64(info.Unit)
	return int(freeBytes / (1024 * 1024)), nil
}
