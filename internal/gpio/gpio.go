// Package gpio drives relay board outputs with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
// Device ids are BCM pin numbers in decimal, e.g. "17".
package gpio

import (
	"fmt"
	"strconv"
)

// Default relay pins (BCM numbering)
const (
	DefaultPinPump   = 17
	DefaultPinHeater = 27
)

// ParsePin converts a device id into a BCM pin number.
func ParsePin(id string) (int, error) {
	pin, err := strconv.Atoi(id)
	if err != nil || pin < 0 {
		return 0, fmt.Errorf("invalid gpio pin %q", id)
	}
	return pin, nil
}

// ID formats a pin as a device id.
func ID(pin int) string {
	return strconv.Itoa(pin)
}

// level converts a logical state into a raw line value.
// Active-low boards energize the relay when the line is driven low.
func level(on, activeLow bool) int {
	if on != activeLow {
		return 1
	}
	return 0
}
