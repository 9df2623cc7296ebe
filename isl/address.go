// Package isl models inter-satellite link devices: antenna terminals, the
// channel that connects devices, and the per-device transmission state
// machine.
package isl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Address is a 48-bit link-layer address.
type Address [6]byte

// Broadcast addresses every device on a channel.
var Broadcast = Address{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

var ErrInvalidAddress = errors.New("isl: invalid address")

func (a Address) IsBroadcast() bool { return a == Broadcast }

// IsGroup reports whether the group bit is set (multicast or broadcast).
func (a Address) IsGroup() bool { return a[0]&0x01 != 0 }

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// ParseAddress parses the colon-separated hex form produced by String.
func ParseAddress(s string) (Address, error) {
	var a Address
	parts := strings.Split(s, ":")
	if len(parts) != len(a) {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil || len(p) != 2 {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}
		a[i] = byte(v)
	}
	return a, nil
}

// AddressAllocator hands out sequential unicast addresses starting at
// 00:00:00:00:00:01.
type AddressAllocator struct {
	next uint64
}

func (al *AddressAllocator) Next() Address {
	al.next++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], al.next)
	var a Address
	copy(a[:], buf[2:])
	return a
}
