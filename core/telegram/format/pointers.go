package format

import "strconv"

// OptionalInt renders *i, or an empty string when i is nil.
func OptionalInt(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}
