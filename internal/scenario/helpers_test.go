package scenario

import (
	"strings"
	"time"
)

func replace(s, old, new string) string {
	if !strings.Contains(s, old) {
		panic("replace: " + old + " not found")
	}
	return strings.Replace(s, old, new, 1)
}

var testNow = time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)
