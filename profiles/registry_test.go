package profiles

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, page string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func TestHostKey(t *testing.T) {
	assert.Equal(t, "nature", HostKey("www.nature.com"))
	assert.Equal(t, "elifesciences", HostKey("elifesciences.org"))
	assert.Equal(t, "plos", HostKey("journals.plos.org"))
	assert.Equal(t, "nih", HostKey("www.ncbi.nlm.nih.gov"))
	assert.Equal(t, "cell", HostKey("WWW.CELL.COM."))
	assert.Equal(t, "localhost", HostKey("localhost"))
}

func TestDefaultRegistryLoads(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	for _, key := range []string{"nature", "springer", "science", "pnas", "cell", "sciencedirect", "elsevier", "elifesciences", "biorxiv", "plos", "frontiersin", "wiley", "nih"} {
		assert.Contains(t, r.Keys(), key)
	}
}

func TestLookup(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	p, err := r.Lookup("https://www.nature.com/articles/s41586-020-2012-7")
	require.NoError(t, err)
	assert.Equal(t, "nature", p.Key)
	assert.NotEmpty(t, p.DOISelector)

	alias, err := r.Lookup("https://link.springer.com/article/10.1007/s00401-020-02100-1")
	require.NoError(t, err)
	assert.Same(t, p, alias)

	_, err = r.Lookup("https://www.example.com/paper")
	assert.True(t, errors.Is(err, ErrUnsupportedHost))

	_, err = r.Lookup("::not a url")
	assert.True(t, errors.Is(err, ErrUnsupportedHost))
}

func TestParseRejectsBadProfiles(t *testing.T) {
	_, err := Parse([]byte(`
[profiles.broken]
content = ["main"]
`))
	assert.ErrorContains(t, err, "doi selector")

	_, err = Parse([]byte(`
[profiles.broken]
doi = "meta[name='citation_doi']"
content = ["main"]
[[profiles.broken.sections]]
container = "section"
heading = "h2"
patterns = ["("]
`))
	assert.Error(t, err)

	_, err = Parse([]byte(`
[profiles.a]
doi = "meta"
content = ["main"]
aliases = ["b"]
[profiles.b]
doi = "meta"
content = ["main"]
`))
	assert.ErrorContains(t, err, "defined twice")
}

func TestRewrite(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	tests := []struct {
		in      string
		want    string
		changed bool
	}{
		{"https://www.science.org/doi/10.1126/science.abc1234", "https://www.science.org/doi/full/10.1126/science.abc1234", true},
		{"https://www.science.org/doi/abs/10.1126/science.abc1234", "https://www.science.org/doi/full/10.1126/science.abc1234", true},
		{"https://www.science.org/doi/full/10.1126/science.abc1234", "https://www.science.org/doi/full/10.1126/science.abc1234", false},
		{"https://www.cell.com/neuron/abstract/S0896-6273(20)30001-1", "https://www.cell.com/neuron/fulltext/S0896-6273(20)30001-1", true},
		{"https://linkinghub.elsevier.com/retrieve/pii/S0092867420300011", "https://www.sciencedirect.com/science/article/pii/S0092867420300011", true},
		{"https://www.biorxiv.org/content/10.1101/2020.01.01.123456v2", "https://www.biorxiv.org/content/10.1101/2020.01.01.123456v2.full", true},
		{"https://www.biorxiv.org/content/10.1101/2020.01.01.123456v2.full", "https://www.biorxiv.org/content/10.1101/2020.01.01.123456v2.full", false},
		{"https://www.nature.com/articles/x", "https://www.nature.com/articles/x", false},
	}
	for _, tt := range tests {
		p, err := r.Lookup(tt.in)
		require.NoError(t, err, tt.in)
		got, changed := p.Rewrite(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.changed, changed, tt.in)
	}
}

func TestCleanRemovesSectionsByHeading(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)
	p, err := r.Lookup("https://elifesciences.org/articles/1")
	require.NoError(t, err)

	doc := mustDoc(t, `<html><body><main>
<section class="article-section"><header><h2>Introduction</h2></header><div class="article-section__body">Intro text.</div></section>
<section class="article-section"><header><h2>Results</h2></header><div class="article-section__body">Results text.<figure>Figure caption.</figure></div></section>
<section class="article-section"><header><h2>Materials and methods</h2></header><div class="article-section__body">Methods text.</div></section>
<section class="article-section"><header><h2>Decision letter</h2></header><div class="article-section__body">Letter text.</div></section>
</main></body></html>`)

	p.Clean(doc)
	text := p.Content(doc).Text()

	assert.Contains(t, text, "Intro text.")
	assert.Contains(t, text, "Results text.")
	assert.NotContains(t, text, "Methods text.")
	assert.NotContains(t, text, "Letter text.")
	assert.NotContains(t, text, "Figure caption.")
}

func TestCleanSiblingScope(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)
	p, err := r.Lookup("https://journals.plos.org/plosone/article?id=10.1371/journal.pone.0000001")
	require.NoError(t, err)

	doc := mustDoc(t, `<html><body><div class="article-text">
<h2>Introduction</h2><p>Keep one.</p>
<h2>Materials and methods</h2><p>Drop one.</p><p>Drop two.</p>
<h2>Discussion</h2><p>Keep two.</p>
<h2>References</h2><ol><li>Drop three.</li></ol>
</div></body></html>`)

	p.Clean(doc)
	text := p.Content(doc).Text()

	assert.Contains(t, text, "Keep one.")
	assert.Contains(t, text, "Keep two.")
	assert.NotContains(t, text, "Drop")
	assert.NotContains(t, text, "Materials and methods")
}

func TestContentSkipsNestedMatches(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)
	p, err := r.Lookup("https://www.cell.com/cell/fulltext/S0092-8674(20)30001-1")
	require.NoError(t, err)

	doc := mustDoc(t, `<html><body><div class="article__body">
<section class="article-section__content"><p>Only once.</p></section>
</div></body></html>`)

	sel := p.Content(doc)
	assert.Equal(t, 1, sel.Length())
	assert.Equal(t, 1, strings.Count(sel.Text(), "Only once."))
}
