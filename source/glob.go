package source

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Expand replaces every local glob argument with the regular files it
// matches. Remote and non-glob arguments are kept as they are. A glob that
// matches nothing is an error.
func Expand(args []string) ([]string, error) {
	var locations []string
	for _, arg := range args {
		if !isLocal(arg) || !hasMeta(arg) {
			locations = append(locations, arg)
			continue
		}

		pattern := strings.TrimPrefix(arg, fileScheme)
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", arg, err)
		}

		var files []string
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", match, err)
			}
			if info.Mode().IsRegular() {
				files = append(files, match)
			}
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no files match %s", arg)
		}

		sort.Strings(files)
		locations = append(locations, files...)
	}
	return locations, nil
}

func isLocal(location string) bool {
	return !strings.Contains(location, "://") || strings.HasPrefix(location, fileScheme)
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
