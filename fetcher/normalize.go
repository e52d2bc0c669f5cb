package fetcher

import (
	"regexp"
	"strings"
)

type rewrite struct {
	re   *regexp.Regexp
	repl string
}

// applied in order, later rules clean up what earlier ones leave behind
var rewrites = []rewrite{
	{regexp.MustCompile(`\be\.g\.,?`), "such as"},
	{regexp.MustCompile(`\bi\.e\.,?`), "that is"},
	{regexp.MustCompile(`<[^>]*>`), " "},
	{regexp.MustCompile(`Supplementary `), ""},
	{regexp.MustCompile(`\s?\(Box\s?\d*\)`), ""},
	{regexp.MustCompile(`\s?\((?:preprint: )?[\w\-]+ et al\.?[^()]*\)`), ""},
	{regexp.MustCompile(`\s?\((?:[A-Z][\w\-]+(?: and [A-Z][\w\-]+)?,? \d{4}[a-z]?(?:[;,] ?)?)+\)`), ""},
	{regexp.MustCompile(`et al\.,?\s?`), ""},
	{regexp.MustCompile(`\bref\.\s?`), ""},
	{regexp.MustCompile(`\s?\[[\d,\s–-]+\]`), ""},
	{regexp.MustCompile(`\s?\([\d,\s–-]+\)`), ""},
	{regexp.MustCompile(`\s?\((?:see |and )?(?:[Ff]ig(?:ure)?s?\.?|[Tt]ables?|[Vv]ideos?|Extended Data Fig\.?)[^()]*\)`), ""},
	{regexp.MustCompile(`\b(?:[Ff]ig(?:ure)?s?\.?|[Tt]ables?|[Vv]ideos?)\s?S?\d+[A-Za-z]?(?:(?:[,–-]|,? and)\s?S?\d+[A-Za-z]?)*`), ""},
	{regexp.MustCompile(`\s?\(data not shown\)`), ""},
	{regexp.MustCompile(`[(\[][\s,;–-]*[)\]]`), ""},
	{regexp.MustCompile(`\s+`), " "},
	{regexp.MustCompile(`\.([A-Z])`), ". $1"},
	{regexp.MustCompile(`\s+([,.;:?!])`), "$1"},
	{regexp.MustCompile(`\([\s;,]+`), "("},
	{regexp.MustCompile(`[\s;,]+\)`), ")"},
	{regexp.MustCompile(`,{2,}`), ","},
	{regexp.MustCompile(`,\.`), "."},
}

// Normalize turns extracted article text into clean prose for chunking
func Normalize(text string) string {
	text = strings.ToValidUTF8(text, "")
	for _, rw := range rewrites {
		text = rw.re.ReplaceAllString(text, rw.repl)
	}
	return strings.TrimSpace(text)
}
