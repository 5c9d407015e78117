package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/partharvest/models"
)

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestTextOf(t *testing.T) {
	doc := parse(t, `<div id="x">  Sensing
	range<script>var x = 1;</script><br>4&nbsp;m <span>max</span></div>`)
	require.Equal(t, "Sensing range 4 m max", textOf(doc.Find("#x")))
}

func TestCollapse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ascii runs", " 10 \t\n V ", "10 V"},
		{"inner nbsp kept", "10\u00a0V ... 30\u00a0V", "10\u00a0V ... 30\u00a0V"},
		{"outer nbsp trimmed", "\u00a0 4\u00a0m \u00a0", "4\u00a0m"},
		{"empty", " \n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, collapse(tt.in))
		})
	}
}

func TestFlatSpecs_KeepsNonBreakingSpaces(t *testing.T) {
	doc := parse(t, `<table><tr><td>Supply voltage</td><td>10&nbsp;V ... 30&nbsp;V</td></tr></table>`)
	entries := flatSpecs(doc)
	require.Len(t, entries, 1)
	require.Equal(t, "10\u00a0V ... 30\u00a0V", entries[0].Value)
}

func TestFirstOf(t *testing.T) {
	doc := parse(t, `<span class="category">Sensors</span>`)

	got := firstOf(doc, models.NotAvailable, categoryStrategies...)
	require.True(t, got.OK())
	require.Equal(t, "Sensors", got.Value)
	require.Equal(t, "category-field", got.Strategy)

	missing := firstOf(doc, models.NotAvailable, nameStrategies...)
	require.Equal(t, models.OutcomeMissing, missing.Status)
	require.Equal(t, models.NotAvailable, missing.Value)

	panicky := firstOf(doc, "fallback", Strategy[string]{
		Name: "boom",
		Read: func(*goquery.Document) (string, bool) { panic("nil element") },
	})
	require.Equal(t, models.OutcomeFailed, panicky.Status)
	require.Equal(t, "fallback", panicky.Value)
	require.Error(t, panicky.Err)
}

func TestTeaserStrategies(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		strategy string
		want     string
	}{
		{"cell", `<table><tr><td> Log in to get your price </td></tr></table>`, "teaser-cell", "Log in to get your price"},
		{"own text", `<div><p>Prices: Log in to get your price <b>now</b></p></div>`, "teaser-text", "Prices: Log in to get your price now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := firstOf(parse(t, tt.html), models.NotAvailable, teaserStrategies...)
			require.Equal(t, tt.strategy, got.Strategy)
			require.Equal(t, tt.want, got.Value)
		})
	}
}

func TestReadLifecycle(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		phasedOut bool
		successor *models.Successor
	}{
		{
			name: "no alert",
			html: `<p>This product is discontinued</p>`,
		},
		{
			name: "unrelated alert",
			html: `<div role="alert">Delivery times may vary</div>`,
		},
		{
			name:      "discontinued without link",
			html:      `<div class="alert">No longer available.</div>`,
			phasedOut: true,
		},
		{
			name: "first matching alert wins",
			html: `<syn-alert variant="primary">Note</syn-alert>
<syn-alert variant="warning">Replaced by <a href="https://www.sick.com/de/en/p/p42">WL4S</a></syn-alert>
<div class="alert">Successor: <a href="/p/p7">Other</a><span class="part-no">7</span></div>`,
			phasedOut: true,
			successor: &models.Successor{Name: "WL4S", PartNumber: models.NotAvailable, URL: "https://www.sick.com/de/en/p/p42"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := readLifecycle(parse(t, tt.html), testOrigin, "/p/")
			require.Equal(t, tt.phasedOut, got.Value.PhasedOut)
			require.Equal(t, tt.successor, got.Value.Successor)
		})
	}
}

func TestReadCertificates(t *testing.T) {
	doc := parse(t, `
<img alt="RoHS compliant"><img title="IO-Link"><img alt="UKCA">
<img alt="rohs"><img alt="Logo" title="ecolab approved">`)
	got := readCertificates(doc)
	require.True(t, got.OK())
	if diff := cmp.Diff([]string{"RoHS", "IO-Link", "UKCA", "ECOLAB"}, got.Value); diff != "" {
		t.Errorf("certificates mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupedRows(t *testing.T) {
	doc := parse(t, `<table>
<tr><td>Dimensions (W x H x D)</td><td>12 mm x 31.5 mm x 21 mm</td></tr>
<tr class="group-header"><td>Mechanics</td></tr>
<tr class="attribute-row"><td>Housing material</td><td>Plastic</td></tr>
<tr><td></td><td>orphan</td></tr>
<tr><td>Part no.:</td><td>1041425</td></tr>
</table>`)

	entries, strategy := tabSpecs(doc, "Technical data")
	require.Equal(t, "document", strategy)
	want := []specEntry{
		{Key: "Technical data > Dimensions (W x H x D)", Value: "12 mm x 31.5 mm x 21 mm"},
		{Key: "Technical data > Mechanics > Housing material", Value: "Plastic"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeSpecs_FirstWriteWins(t *testing.T) {
	specs := models.NewSpecifications()
	mergeSpecs(specs, []specEntry{{"a", "1"}, {"b", "2"}})
	mergeSpecs(specs, []specEntry{{"a", "changed"}, {"c", "3"}})
	require.Equal(t, []string{"a=1", "b=2", "c=3"}, specPairs(specs))
}

func TestFindDrawings(t *testing.T) {
	tests := []struct {
		name   string
		html   string
		found  bool
		expand bool
	}{
		{"none", `<ui-accordion class="x">Downloads</ui-accordion>`, false, false},
		{"by id open", `<div id="technical-drawings" class="is-open"></div>`, true, false},
		{"by id no class", `<div id="technical-drawings"></div>`, true, false},
		{"accordion closed", `<ui-accordion class="accordion">Technical drawings</ui-accordion>`, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			section, ok := findDrawings(parse(t, tt.html))
			require.Equal(t, tt.found, ok)
			if ok {
				require.Equal(t, tt.expand, section.needsExpand())
			}
		})
	}
}
