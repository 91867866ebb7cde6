package app

import (
	"os"
	"strconv"
)

// termSize returns the width used to wrap flag help. It honours COLUMNS and
// otherwise wraps at 0, which disables wrapping.
func termSize() (int, int, error) {
	if cols, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && cols > 0 {
		return cols, 0, nil
	}
	return 0, 0, nil
}
