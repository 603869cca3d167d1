//go:build linux || darwin

package enumerate

import (
	"golang.org/x/sys/unix"
)

// sameDevice reports whether a and b reside on the same filesystem device,
// using the raw stat_t populated by golang.org/x/sys/unix (spec.md §4.2's
// device-boundary rule for symlink following).
func sameDevice(a, b string) bool {
	var sa, sb unix.Stat_t
	if err := unix.Stat(a, &sa); err != nil {
		return false
	}
	if err := unix.Stat(b, &sb); err != nil {
		return false
	}
	return sa.Dev == sb.Dev
}
