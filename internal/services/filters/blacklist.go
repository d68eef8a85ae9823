package filters

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// CacheDirPatterns keep duplicacy's own caches out of the backup.
var CacheDirPatterns = []string{
	"-home/*/.duplicacy/cache",
	"-root/.duplicacy/cache",
}

// Counts summarises what Render wrote.
type Counts struct {
	Excluded       int
	GlobalPatterns int
	LocalPatterns  int
}

// Unmodified returns owned minus modified, keeping the order of owned and
// dropping duplicates.
func Unmodified(owned, modified []string) []string {
	changed := make(map[string]struct{}, len(modified))
	for _, p := range modified {
		changed[p] = struct{}{}
	}

	result := make([]string, 0, len(owned))
	seen := make(map[string]struct{}, len(owned))
	for _, p := range owned {
		if _, ok := changed[p]; ok {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	return result
}

// ExcludePattern turns an absolute path into a duplicacy exclude pattern:
// literal brackets are escaped and the leading slash becomes the '-' marker.
func ExcludePattern(path string) string {
	p := strings.ReplaceAll(path, "[", `\[`)
	if strings.HasPrefix(p, "/") {
		return "-" + p[1:]
	}
	return p
}

// Render writes the complete blacklist to w: the unmodified package files as
// exclude patterns, then the global and local exclude lists verbatim, then
// the cache directory patterns. A nil local reader is treated as empty.
func Render(w io.Writer, owned, modified []string, global, local io.Reader) (Counts, error) {
	var counts Counts
	bw := bufio.NewWriter(w)

	for _, p := range Unmodified(owned, modified) {
		if _, err := bw.WriteString(ExcludePattern(p) + "\n"); err != nil {
			return counts, errors.Wrap(err, "writing package excludes")
		}
		counts.Excluded++
	}

	n, err := appendList(bw, global)
	if err != nil {
		return counts, errors.Wrap(err, "appending global excludes")
	}
	counts.GlobalPatterns = n

	if local != nil {
		n, err = appendList(bw, local)
		if err != nil {
			return counts, errors.Wrap(err, "appending local excludes")
		}
		counts.LocalPatterns = n
	}

	for _, p := range CacheDirPatterns {
		if _, err := bw.WriteString(p + "\n"); err != nil {
			return counts, errors.Wrap(err, "writing cache patterns")
		}
	}

	if err := bw.Flush(); err != nil {
		return counts, errors.Wrap(err, "flushing blacklist")
	}
	return counts, nil
}

// appendList copies r to w, newline-terminated, and returns its number of
// non-blank lines.
func appendList(w io.Writer, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	if _, err := w.Write(data); err != nil {
		return 0, err
	}
	if data[len(data)-1] != '\n' {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return 0, err
		}
	}

	lines := 0
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			lines++
		}
	}
	return lines, nil
}
