// Package normalize canonicalizes control identifiers to one spacing
// convention so "AC-2 (1)" and "AC-2(1)" are recognized as the same control.
// Every control identifier must pass through ControlID before being compared,
// stored, or used as a lookup key.
package normalize

import "strings"

// ControlID removes whitespace runs immediately adjacent to parenthesis
// boundaries: runs preceding "(" or ")" and runs following "(". Case and
// whitespace elsewhere in the identifier are untouched. Idempotent.
func ControlID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	i := 0
	for i < len(id) {
		c := id[i]
		if c == ' ' || c == '\t' {
			j := i
			for j < len(id) && (id[j] == ' ' || id[j] == '\t') {
				j++
			}
			if j < len(id) && (id[j] == '(' || id[j] == ')') {
				i = j
				continue
			}
			b.WriteString(id[i:j])
			i = j
			continue
		}
		b.WriteByte(c)
		if c == '(' {
			for i+1 < len(id) && (id[i+1] == ' ' || id[i+1] == '\t') {
				i++
			}
		}
		i++
	}
	return b.String()
}
