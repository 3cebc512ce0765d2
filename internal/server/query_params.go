package server

import (
	"strconv"
	"strings"
)

// parsePageSize reads an optional positive page size; zero means the default.
func parsePageSize(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 0 {
		return 0, ErrInvalidRequest
	}
	return parsed, nil
}
