package carton

import "strings"

func isBlankString(s string) bool {
	return strings.TrimSpace(s) == ""
}
