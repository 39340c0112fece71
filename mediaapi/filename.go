package mediaapi

import (
	"net/url"
	"strings"
)

// PlaceholderFilename is used when no usable name can be derived.
const PlaceholderFilename = "untitled"

// InferFilename turns a URL-shaped input into its decoded last path segment.
// Anything that is not an absolute URL is used as is.
func InferFilename(input string) string {
	u, err := url.Parse(input)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return orPlaceholder(input)
	}

	segments := strings.Split(u.EscapedPath(), "/")
	last := segments[len(segments)-1]
	if last == "" {
		return PlaceholderFilename
	}
	last = strings.SplitN(last, "?", 2)[0]

	decoded, err := url.PathUnescape(last)
	if err != nil {
		return orPlaceholder(input)
	}
	return orPlaceholder(decoded)
}

func orPlaceholder(name string) string {
	if name == "" {
		return PlaceholderFilename
	}
	return name
}
