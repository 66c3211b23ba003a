package acquire

import (
	"net/http"
	"strings"
)

const githubAPIVersion = "2022-11-28"

// Headers decorates outgoing requests. GitHub hosts get the raw media type,
// the API version, and the bearer token; other hosts only the user agent.
type Headers struct {
	UserAgent string
	Token     string
}

// Apply sets the headers on req.
func (h Headers) Apply(req *http.Request) {
	if ua := strings.TrimSpace(h.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if !isGitHubHost(req.URL.Hostname()) {
		return
	}
	req.Header.Set("Accept", "application/vnd.github.raw+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if token := strings.TrimSpace(h.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func isGitHubHost(host string) bool {
	host = strings.ToLower(host)
	return host == "github.com" || strings.HasSuffix(host, ".github.com") ||
		strings.HasSuffix(host, ".githubusercontent.com")
}
