package spawn

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Location is the controller's origin metadata, shipped to every isolated
// context so relative imports resolve against the controller and not against
// the context's own generated resource.
type Location struct {
	Origin   string `json:"origin"`
	BasePath string `json:"base_path"`
}

var schemePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*:`)

// ParseLocation derives a Location from an absolute href. The base path is
// the href up to and including its last slash.
func ParseLocation(href string) (Location, error) {
	u, err := url.Parse(href)
	if err != nil {
		return Location{}, fmt.Errorf("parse location %q: %w", href, err)
	}
	if u.Scheme == "" {
		return Location{}, fmt.Errorf("parse location %q: not absolute", href)
	}

	origin := u.Scheme + "://" + u.Host
	dir := u.EscapedPath()
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i+1]
	} else {
		dir = "/"
	}

	return Location{Origin: origin, BasePath: origin + dir}, nil
}

// CurrentLocation describes the working directory as a file:// location.
func CurrentLocation() Location {
	wd, err := os.Getwd()
	if err != nil {
		wd = "/"
	}
	dir := filepath.ToSlash(wd)
	if !strings.HasPrefix(dir, "/") {
		dir = "/" + dir
	}
	dir = strings.TrimSuffix(dir, "/") + "/"

	return Location{Origin: "file://", BasePath: "file://" + dir}
}

// Resolve rewrites a script identifier against the location:
//
//	http://cdn/x.js, blob:..., data:...  unchanged
//	//cdn/x.js                           origin scheme + id
//	/lib/x.js                            origin + id
//	lib/x.js                             base path + id
func (l Location) Resolve(id string) string {
	switch {
	case schemePattern.MatchString(id):
		return id
	case strings.HasPrefix(id, "//"):
		if scheme, _, ok := strings.Cut(l.Origin, "//"); ok && scheme != "" {
			return scheme + id
		}
		return id
	case strings.HasPrefix(id, "/"):
		return l.Origin + id
	}
	return l.BasePath + id
}

func (l Location) ResolveAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = l.Resolve(id)
	}
	return out
}
