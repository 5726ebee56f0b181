package replay

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ReadIDs reads one deal id per line. Blank lines and lines starting with
// '#' are skipped; commas also separate ids so CSV exports work as-is.
func ReadIDs(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, f := range strings.Split(line, ",") {
			if id := strings.TrimSpace(f); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ids: %w", err)
	}
	return ids, nil
}

// Chunk splits ids into consecutive batches of at most size.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = defaultBatchSize
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
