package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "abbreviations",
			in:   "Several nuclei, e.g. the arcuate, i.e. the ARC, respond.",
			want: "Several nuclei, such as the arcuate, that is the ARC, respond.",
		},
		{
			name: "author citations",
			in:   "Tanycytes line the ventricle (Smith et al., 2020) and sense glucose (Lee, 2019; Kim and Park, 2021).",
			want: "Tanycytes line the ventricle and sense glucose.",
		},
		{
			name: "numeric citations",
			in:   "This was shown before [3, 4–6] and again (12).",
			want: "This was shown before and again.",
		},
		{
			name: "figure and table references",
			in:   "Firing increased (Fig. 2A). See Table 1 for values and Figures 3 and 4 for traces.",
			want: "Firing increased. See for values and for traces.",
		},
		{
			name: "supplementary and box",
			in:   "Details are in Supplementary Fig. 5 (Box 2).",
			want: "Details are in.",
		},
		{
			name: "sentence spacing and whitespace",
			in:   "First sentence.Second   sentence\n\nhere .",
			want: "First sentence. Second sentence here.",
		},
		{
			name: "tags and empty brackets",
			in:   "A <i>c-Fos</i> signal ( ; ) appeared.",
			want: "A c-Fos signal appeared.",
		},
		{
			name: "data not shown",
			in:   "No change was seen (data not shown).",
			want: "No change was seen.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIsIdempotentOnCleanText(t *testing.T) {
	clean := "Tanycytes regulate feeding. Their role is unclear."
	assert.Equal(t, clean, Normalize(clean))
	assert.Equal(t, Normalize(clean), Normalize(Normalize(clean)))
}
