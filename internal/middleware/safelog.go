package middleware

import "strings"

// MaskToken маскирует токен в логах (в prod не светить полный токен).
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "***" + s[len(s)-2:]
}
