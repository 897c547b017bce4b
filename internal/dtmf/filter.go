// Package dtmf implements DTMF digit collection: filtering received keypad
// signals down to decimal digits and driving a channel until a requested
// number of digits has been collected or the caller stops pressing keys.
//
// The package performs no logging and touches no session state. Callers
// receive a classified Result and decide how to report it.
package dtmf

// IsDigit reports whether the signal symbol is a decimal digit '0'-'9'.
func IsDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// FilterDigits removes every non-digit signal (such as '*' and '#') from buf
// in place, preserving the order of the remaining digits. It returns the
// number of digits kept; buf[:n] holds them afterwards. Bytes past n are left
// unspecified.
func FilterDigits(buf []byte) int {
	n := 0
	for _, c := range buf {
		if IsDigit(c) {
			buf[n] = c
			n++
		}
	}
	return n
}

// Filter is the string form of FilterDigits.
func Filter(s string) (string, int) {
	b := []byte(s)
	n := FilterDigits(b)
	return string(b[:n]), n
}
