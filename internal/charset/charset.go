// Package charset converts the ISO-8859-1 microdata files to UTF-8.
package charset

import (
	"golang.org/x/text/encoding/charmap"
)

// ToUTF8 maps every byte of an ISO-8859-1 buffer to the code point with the
// same value. ISO-8859-1 assigns a character to all 256 byte values, so the
// conversion never fails or substitutes.
func ToUTF8(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	// every byte value is assigned in ISO-8859-1, so decoding cannot fail
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(b)

	return string(out)
}
