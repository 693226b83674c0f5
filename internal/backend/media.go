package backend

import (
	"net/url"
	"strings"
)

// MediaPrefix is the HTTP route under which self-served objects live.
const MediaPrefix = "/media/"

// MediaURL builds the URL under which the HTTP layer serves an object path.
func MediaURL(baseURL, path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(baseURL, "/") + MediaPrefix + strings.Join(segments, "/")
}
