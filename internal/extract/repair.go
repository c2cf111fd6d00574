package extract

import "strings"

// validEscapes are the characters allowed after a backslash inside a
// JSON string literal.
const validEscapes = `"\/bfnrtu`

// RepairEscapes doubles any backslash inside a string literal that is not
// followed by a valid escape character. Models frequently emit Windows
// paths and LaTeX fragments with single backslashes, which breaks the
// whole document.
func RepairEscapes(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inString := false
	i := 0
	for i < len(text) {
		ch := text[i]
		switch {
		case ch == '"' && !escapedAt(text, i):
			inString = !inString
			b.WriteByte(ch)
			i++
		case ch == '\\' && inString:
			if i+1 < len(text) && strings.IndexByte(validEscapes, text[i+1]) >= 0 {
				b.WriteByte(ch)
				b.WriteByte(text[i+1])
				i += 2
			} else {
				b.WriteString(`\\`)
				i++
			}
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String()
}

// escapedAt reports whether the byte at position i is preceded by an odd
// number of backslashes.
func escapedAt(text string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && text[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}
