package memory

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PendingReviews counts the entries queued in the review queue under
// basePath. A missing queue counts as empty.
func PendingReviews(basePath string) (int, error) {
	f, err := os.Open(filepath.Join(basePath, ReviewQueue))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open review queue: %w", err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "## ") {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("read review queue: %w", err)
	}
	return n, nil
}
