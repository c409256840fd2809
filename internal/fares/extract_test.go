package fares

import (
	"fmt"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

func resultsPage(rows string) string {
	return fmt.Sprintf(`<html><body>
<div id="flightInfoListDC">
  <table class="tblRouteList">
    %s
  </table>
</div>
</body></html>`, rows)
}

func flightRow(number string, cells string) string {
	return fmt.Sprintf(`<tr class="flightTr">
  <td class="flightInfoForm"><div class="F20">%s</div></td>
  %s
</tr>`, number, cells)
}

func visibleCell(text string) string {
	return fmt.Sprintf(`<td class="classInfo"><div class="F22 notHover">%s</div></td>`, text)
}

func hoverCell(text string) string {
	return fmt.Sprintf(`<td class="classInfo"><div class="needHover"><span style="font-size:18px;color:red">%s</span></div></td>`, text)
}

func TestExtractMinimumAcrossCells(t *testing.T) {
	t.Parallel()

	html := resultsPage(flightRow("ZH9999",
		visibleCell("¥1200")+visibleCell("¥980")+visibleCell("¥not-a-price")))

	record := New(zap.NewNop()).Extract(html, "ZH9999")
	if record.Reason != ReasonFound || record.MinPrice == nil {
		t.Fatalf("expected a price, got %+v", record)
	}
	if *record.MinPrice != 980.0 {
		t.Fatalf("expected min 980.0, got %v", *record.MinPrice)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	t.Parallel()

	html := resultsPage(flightRow("ZH9999", visibleCell("¥1180")+hoverCell("￥1,340")))
	extractor := New(zap.NewNop())

	first := extractor.Extract(html, "ZH9999")
	second := extractor.Extract(html, "ZH9999")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("extraction not idempotent: %+v vs %+v", first, second)
	}
	if first.MinPrice == nil || *first.MinPrice != 1180.0 {
		t.Fatalf("unexpected record: %+v", first)
	}
}

func TestExtractHoverVariant(t *testing.T) {
	t.Parallel()

	html := resultsPage(flightRow("ZH9999", hoverCell("￥1,234.50")))

	record := New(zap.NewNop()).Extract(html, "ZH9999")
	if record.MinPrice == nil || *record.MinPrice != 1234.50 {
		t.Fatalf("expected 1234.50 from hover variant, got %+v", record)
	}
}

func TestExtractRowMatchingIsTrimmedExact(t *testing.T) {
	t.Parallel()

	t.Run("trailing space matches", func(t *testing.T) {
		t.Parallel()
		html := resultsPage(flightRow("ZH9999 ", visibleCell("¥999")))
		record := New(zap.NewNop()).Extract(html, "ZH9999")
		if record.MinPrice == nil || *record.MinPrice != 999.0 {
			t.Fatalf("trimmed row text should match, got %+v", record)
		}
	})

	t.Run("prefix does not match", func(t *testing.T) {
		t.Parallel()
		html := resultsPage(flightRow("ZH99990", visibleCell("¥999")))
		record := New(zap.NewNop()).Extract(html, "ZH9999")
		if record.Reason != ReasonFlightNotFound {
			t.Fatalf("expected flight not found, got %+v", record)
		}
	})
}

func TestExtractFirstMatchingRowWins(t *testing.T) {
	t.Parallel()

	html := resultsPage(
		flightRow("ZH9999", visibleCell("¥1500")) +
			flightRow("ZH9999", visibleCell("¥100")))

	record := New(zap.NewNop()).Extract(html, "ZH9999")
	if record.MinPrice == nil || *record.MinPrice != 1500.0 {
		t.Fatalf("expected first row to win, got %+v", record)
	}
}

func TestParseFareText(t *testing.T) {
	t.Parallel()

	extractor := New(zap.NewNop())
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"￥1,234.50", 1234.50, true},
		{"¥999", 999.0, true},
		{"  ¥  1180 起 ", 1180.0, true},
		{"1234.50", 0, false},
		{"¥abc", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := extractor.parseFareText(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parseFareText(%q) = (%v, %v), want (%v, %v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestExtractDegradedMarkupReasons(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		html   string
		reason Reason
	}{
		{"empty markup", "", ReasonNoContent},
		{"container missing", "<html><body><p>maintenance</p></body></html>", ReasonContainerMissing},
		{"table missing", `<html><body><div id="flightInfoListDC"></div></body></html>`, ReasonTableMissing},
		{"no rows", resultsPage("<tr><td>header</td></tr>"), ReasonNoRows},
		{"flight not found", resultsPage(flightRow("ZH1234", visibleCell("¥500"))), ReasonFlightNotFound},
		{"no valid price", resultsPage(flightRow("ZH9999", visibleCell("售罄"))), ReasonNoValidPrice},
	}
	for _, tc := range cases {
		tc := tc // per-iteration copy; go directive predates Go 1.22 loop scoping
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			record := New(zap.NewNop()).Extract(tc.html, "ZH9999")
			if record.MinPrice != nil {
				t.Fatalf("expected nil price, got %v", *record.MinPrice)
			}
			if record.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, record.Reason)
			}
		})
	}
}

func TestExtractVisibleWithoutGlyphFallsThroughToHover(t *testing.T) {
	t.Parallel()

	// A cell can carry an empty inline div while the real fare hides behind
	// the hover span.
	cell := `<td class="classInfo">
  <div class="F22 notHover">查看</div>
  <div class="needHover"><span style="font-size:18px">¥777</span></div>
</td>`
	html := resultsPage(flightRow("ZH9999", cell))

	record := New(zap.NewNop()).Extract(html, "ZH9999")
	if record.MinPrice == nil || *record.MinPrice != 777.0 {
		t.Fatalf("expected hover fallback to yield 777, got %+v", record)
	}
}
