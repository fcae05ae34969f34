// Package format renders values for Telegram messages.
package format

import "strings"

const mdV2Specials = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdownV2 escapes every MarkdownV2 special character in text.
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if strings.ContainsRune(mdV2Specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
