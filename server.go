package main

import (
	"strings"

	"github.com/pkg/errors"
)

// DefaultServerURL is the public PlantUML rendering server.
const DefaultServerURL = "https://www.plantuml.com/plantuml"

// DefaultFormat is the image format requested from the server.
const DefaultFormat = "png"

// Formats lists the image formats a rendering server is asked for.
var Formats = []string{"png", "svg", "txt"}

// Server builds rendering URLs. It never contacts the server.
type Server struct {
	BaseURL string
	Format  string
}

// URL returns the rendering URL for payload.
func (s Server) URL(payload string) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + s.Format + "/" + payload
}

// Ext is the file extension of the rendered image, dot included.
func (s Server) Ext() string {
	return "." + s.Format
}

// ParseURL splits a rendering URL into its server and payload. The
// payload may itself contain slashes, so the split happens at the first
// format segment after the host.
func ParseURL(url string) (Server, string, error) {
	scheme := strings.Index(url, "://")
	if scheme < 0 {
		return Server{}, "", errors.Errorf("not a rendering url: %s", url)
	}
	rest := url[scheme+3:]
	host := strings.Index(rest, "/")
	if host < 0 {
		return Server{}, "", errors.Errorf("rendering url has no path: %s", url)
	}

	best := -1
	var format string
	for _, f := range Formats {
		i := strings.Index(rest[host:], "/"+f+"/")
		if i >= 0 && (best < 0 || i < best) {
			best, format = i, f
		}
	}
	if best < 0 {
		return Server{}, "", errors.Errorf("rendering url has no format segment (%s): %s", strings.Join(Formats, ", "), url)
	}

	cut := scheme + 3 + host + best
	payload := url[cut+len(format)+2:]
	if payload == "" {
		return Server{}, "", errors.Errorf("rendering url has an empty payload: %s", url)
	}
	return Server{BaseURL: url[:cut], Format: format}, payload, nil
}
