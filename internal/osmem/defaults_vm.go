//go:build linux || darwin || windows

package osmem

// PlatformReserve is the reservation used when the caller does not pick one.
const PlatformReserve = DefaultReserve
