package hcid

import "fmt"

// BDAddr is a Bluetooth device address in display byte order
// (most significant byte first). The zero value, BDAddrAny, never
// identifies a real peer.
type BDAddr [6]byte

var BDAddrAny BDAddr

func (a BDAddr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// LE returns the address in wire byte order (least significant first),
// which is what the kernel and the controller expect.
func (a BDAddr) LE() [6]byte {
	return [6]byte{a[5], a[4], a[3], a[2], a[1], a[0]}
}

// BDAddrFromLE is the inverse of LE.
func BDAddrFromLE(b [6]byte) BDAddr {
	return BDAddr{b[5], b[4], b[3], b[2], b[1], b[0]}
}

// ParseBDAddr parses "XX:XX:XX:XX:XX:XX"; hex digits in either case.
func ParseBDAddr(s string) (BDAddr, error) {
	var a BDAddr
	if len(s) != 17 {
		return a, errInvalidArgs("invalid device address: " + s)
	}
	for i := 0; i < 6; i++ {
		if i > 0 && s[i*3-1] != ':' {
			return BDAddr{}, errInvalidArgs("invalid device address: " + s)
		}
		hi, lo := unhex(s[i*3]), unhex(s[i*3+1])
		if hi < 0 || lo < 0 {
			return BDAddr{}, errInvalidArgs("invalid device address: " + s)
		}
		a[i] = byte(hi<<4 | lo)
	}
	return a, nil
}

func unhex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}
