package welcome

import (
	"strconv"
	"strings"
)

// maxUnescapePasses caps how many layers of escaping are removed.
const maxUnescapePasses = 3

// Unescape decodes the escape sequences \n, \r, \t, \", \', \\ and \uXXXX.
// Text stored through several layers of escaping is decoded again, at most
// maxUnescapePasses times. Unknown sequences are kept as they are.
func Unescape(s string) string {
	for range maxUnescapePasses {
		next := unescapeOnce(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func unescapeOnce(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch n := s[i+1]; n {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '"', '\'', '\\':
			b.WriteByte(n)
		case 'u':
			if i+6 <= len(s) {
				if r, err := strconv.ParseUint(s[i+2:i+6], 16, 32); err == nil {
					b.WriteRune(rune(r))
					i += 5
					continue
				}
			}
			b.WriteString(`\u`)
		default:
			b.WriteByte(c)
			b.WriteByte(n)
		}
		i++
	}
	return b.String()
}
