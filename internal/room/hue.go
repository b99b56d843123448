package room

import "unicode/utf16"

// NameHue maps a display name to a stable hue in [0, 360) so every client
// colours the same user the same way.
func NameHue(name string) int {
	h := 0
	for _, unit := range utf16.Encode([]rune(name)) {
		h = (h*31 + int(unit)) % 360
	}
	return h
}
