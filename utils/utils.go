package utils

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const DOIResolver = "https://doi.org/"

// chunkNamespace keeps chunk point ids stable across runs
var chunkNamespace = uuid.MustParse("6f1c1f3e-5b1a-4d59-9d0e-0c2a8e7b4a11")

// NormalizeURL drops fragment, query and trailing slashes
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("not an absolute url: %q", raw)
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.RawQuery = ""
	parsed.ForceQuery = false

	out := parsed.String()
	for len(out) > 0 && out[len(out)-1] == '/' {
		out = out[:len(out)-1]
	}
	return out, nil
}

// ExpandInput turns a bare DOI into a resolver url, then normalizes
func ExpandInput(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty input")
	}
	if strings.HasPrefix(raw, "10.") {
		raw = DOIResolver + raw
	}
	return NormalizeURL(raw)
}

// StripDOIPrefix removes a leading "doi:" and resolver host
func StripDOIPrefix(doi string) string {
	doi = strings.TrimSpace(doi)
	if len(doi) >= 4 && strings.EqualFold(doi[:4], "doi:") {
		doi = strings.TrimSpace(doi[4:])
	}
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/"} {
		if strings.HasPrefix(strings.ToLower(doi), prefix) {
			doi = doi[len(prefix):]
			break
		}
	}
	return doi
}

// ChunkPointID is a deterministic uuid for chunk seq of a DOI
func ChunkPointID(doi string, seq int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", doi, seq))).String()
}

// ArtifactName maps a DOI to its text artifact file name
func ArtifactName(doi string) string {
	return strings.ReplaceAll(doi, "/", "_") + ".txt"
}
