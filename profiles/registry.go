package profiles

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/net/html"
)

//go:embed profiles.toml
var defaultProfiles []byte

// ErrUnsupportedHost means no profile exists for the page's host. It is terminal.
var ErrUnsupportedHost = errors.New("unsupported host")

const (
	ScopeAncestor = "ancestor"
	ScopeSiblings = "siblings"
)

// SectionRule removes a structural section whose heading text matches a pattern.
// With ScopeAncestor the closest Container around the heading is removed,
// with ScopeSiblings the heading and everything up to the next heading is removed.
type SectionRule struct {
	Scope     string
	Container string
	Heading   string
	Patterns  []*regexp.Regexp
}

// RewriteRule maps a url shape to the canonical full text view
type RewriteRule struct {
	Pattern *regexp.Regexp
	Replace string
}

// Profile is the immutable extraction rule set for one publisher
type Profile struct {
	Key              string
	ContentSelectors []string
	RemovalSelectors []string
	DOISelector      string
	Sections         []SectionRule
	Rewrites         []RewriteRule
}

type fileFormat struct {
	Profiles map[string]profileSpec `toml:"profiles"`
}

type profileSpec struct {
	Aliases  []string      `toml:"aliases"`
	DOI      string        `toml:"doi"`
	Content  []string      `toml:"content"`
	Remove   []string      `toml:"remove"`
	Sections []sectionSpec `toml:"sections"`
	Rewrites []rewriteSpec `toml:"rewrites"`
}

type sectionSpec struct {
	Scope     string   `toml:"scope"`
	Container string   `toml:"container"`
	Heading   string   `toml:"heading"`
	Patterns  []string `toml:"patterns"`
}

type rewriteSpec struct {
	Pattern string `toml:"pattern"`
	Replace string `toml:"replace"`
}

// Registry maps host keys to profiles
type Registry struct {
	profiles map[string]*Profile
}

// Default returns the registry built from the embedded profile table
func Default() (*Registry, error) {
	return Parse(defaultProfiles)
}

// Load reads a profile table from path, or the embedded one when path is empty
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read profiles %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a registry from TOML, compiling every pattern up front
func Parse(data []byte) (*Registry, error) {
	var f fileFormat
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("can't parse profiles: %w", err)
	}

	r := &Registry{profiles: make(map[string]*Profile)}
	for key, spec := range f.Profiles {
		p, err := compile(key, spec)
		if err != nil {
			return nil, err
		}
		for _, k := range append([]string{key}, spec.Aliases...) {
			k = strings.ToLower(k)
			if _, dup := r.profiles[k]; dup {
				return nil, fmt.Errorf("profile key %q defined twice", k)
			}
			r.profiles[k] = p
		}
	}
	return r, nil
}

func compile(key string, spec profileSpec) (*Profile, error) {
	if spec.DOI == "" {
		return nil, fmt.Errorf("profile %s: doi selector is required", key)
	}
	if len(spec.Content) == 0 {
		return nil, fmt.Errorf("profile %s: at least one content selector is required", key)
	}

	p := &Profile{
		Key:              key,
		ContentSelectors: append([]string(nil), spec.Content...),
		RemovalSelectors: append([]string(nil), spec.Remove...),
		DOISelector:      spec.DOI,
	}

	for i, s := range spec.Sections {
		rule := SectionRule{Scope: s.Scope, Container: s.Container, Heading: s.Heading}
		if rule.Scope == "" {
			rule.Scope = ScopeAncestor
		}
		if rule.Scope != ScopeAncestor && rule.Scope != ScopeSiblings {
			return nil, fmt.Errorf("profile %s section %d: unknown scope %q", key, i, s.Scope)
		}
		if rule.Heading == "" || (rule.Scope == ScopeAncestor && rule.Container == "") {
			return nil, fmt.Errorf("profile %s section %d: heading and container are required", key, i)
		}
		for _, pat := range s.Patterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, fmt.Errorf("profile %s section %d: %w", key, i, err)
			}
			rule.Patterns = append(rule.Patterns, re)
		}
		p.Sections = append(p.Sections, rule)
	}

	for i, rw := range spec.Rewrites {
		re, err := regexp.Compile(rw.Pattern)
		if err != nil {
			return nil, fmt.Errorf("profile %s rewrite %d: %w", key, i, err)
		}
		p.Rewrites = append(p.Rewrites, RewriteRule{Pattern: re, Replace: rw.Replace})
	}

	return p, nil
}

// HostKey reduces a hostname to the first of its last two labels
func HostKey(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	labels := strings.Split(host, ".")
	if len(labels) >= 2 {
		return labels[len(labels)-2]
	}
	return host
}

// Lookup resolves the profile for a page url
func (r *Registry) Lookup(rawURL string) (*Profile, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: can't parse host of %q", ErrUnsupportedHost, rawURL)
	}
	key := HostKey(u.Hostname())
	p, ok := r.profiles[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHost, u.Hostname())
	}
	return p, nil
}

// Keys lists every registered host key, sorted
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.profiles))
	for k := range r.profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Rewrite applies the first matching rewrite rule and reports whether the url changed
func (p *Profile) Rewrite(rawURL string) (string, bool) {
	for _, rw := range p.Rewrites {
		if rw.Pattern.MatchString(rawURL) {
			out := rw.Pattern.ReplaceAllString(rawURL, rw.Replace)
			return out, out != rawURL
		}
	}
	return rawURL, false
}

// Clean removes boilerplate sections first, then every removal selector
func (p *Profile) Clean(doc *goquery.Document) {
	for _, rule := range p.Sections {
		rule.apply(doc)
	}
	for _, sel := range p.RemovalSelectors {
		doc.Find(sel).Remove()
	}
}

// Content returns the content selector matches in profile order,
// dropping matches nested inside another match
func (p *Profile) Content(doc *goquery.Document) *goquery.Selection {
	seen := make(map[*html.Node]bool)
	var nodes []*html.Node
	for _, s := range p.ContentSelectors {
		for _, n := range doc.Find(s).Nodes {
			if !seen[n] {
				seen[n] = true
				nodes = append(nodes, n)
			}
		}
	}

	var top []*html.Node
	for _, n := range nodes {
		nested := false
		for a := n.Parent; a != nil; a = a.Parent {
			if seen[a] {
				nested = true
				break
			}
		}
		if !nested {
			top = append(top, n)
		}
	}
	return doc.FindNodes(top...)
}

func (rule SectionRule) matches(text string) bool {
	for _, re := range rule.Patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (rule SectionRule) apply(doc *goquery.Document) {
	var doomed []*goquery.Selection
	doc.Find(rule.Heading).Each(func(_ int, h *goquery.Selection) {
		if !rule.matches(strings.TrimSpace(h.Text())) {
			return
		}
		switch rule.Scope {
		case ScopeSiblings:
			doomed = append(doomed, h.NextUntil(rule.Heading), h)
		default:
			if c := h.Closest(rule.Container); c.Length() > 0 {
				doomed = append(doomed, c)
			}
		}
	})
	for _, s := range doomed {
		s.Remove()
	}
}
