// Package fares extracts the lowest published fare for a flight from the
// rendered search-results markup.
package fares

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Selectors for the search-results page. The page renders a container div
// holding one table with one row per flight.
const (
	containerSelector    = "div#flightInfoListDC"
	tableSelector        = "table.tblRouteList"
	rowSelector          = "tr.flightTr"
	flightNumberSelector = "td.flightInfoForm div.F20"
	fareCellSelector     = "td.classInfo"

	// The two fare presentation variants, tried in order. A fare is either
	// rendered inline or revealed on hover inside a nested span carrying a
	// fixed inline font-size.
	visibleFareSelector = "div.F22.notHover"
	hoverFareSelector   = `div.needHover span[style*="font-size:18px"]`
)

// Reason explains why no price was extracted. ReasonFound means extraction
// succeeded.
type Reason string

const (
	ReasonFound            Reason = "found"
	ReasonNoContent        Reason = "no content"
	ReasonContainerMissing Reason = "container missing"
	ReasonTableMissing     Reason = "table missing"
	ReasonNoRows           Reason = "no rows"
	ReasonFlightNotFound   Reason = "flight not found"
	ReasonNoValidPrice     Reason = "no valid price"
)

// Record is the outcome of one extraction. MinPrice is nil whenever Reason
// is not ReasonFound; the distinct reasons matter for logs even though they
// collapse to the same user-facing outcome.
type Record struct {
	FlightNumber string
	MinPrice     *float64
	Reason       Reason
}

// Extractor parses rendered markup for a single flight's fares.
type Extractor struct {
	logger *zap.Logger
}

// New constructs an Extractor.
func New(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract scans the markup for the row matching flightNumber and returns the
// minimum over all parseable fare values in that row. It never returns an
// error: malformed markup or fare text degrades to a nil MinPrice with a
// logged reason.
func (e *Extractor) Extract(html, flightNumber string) Record {
	record := Record{FlightNumber: flightNumber}

	if strings.TrimSpace(html) == "" {
		e.logger.Warn("empty markup, nothing to parse")
		record.Reason = ReasonNoContent
		return record
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logger.Warn("markup not parseable", zap.Error(err))
		record.Reason = ReasonNoContent
		return record
	}

	container := doc.Find(containerSelector)
	if container.Length() == 0 {
		e.logger.Warn("flight list container not found",
			zap.String("selector", containerSelector),
			zap.Int("markup_bytes", len(html)))
		record.Reason = ReasonContainerMissing
		return record
	}

	table := container.Find(tableSelector)
	if table.Length() == 0 {
		e.logger.Warn("flight table not found", zap.String("selector", tableSelector))
		record.Reason = ReasonTableMissing
		return record
	}

	rows := table.Find(rowSelector)
	if rows.Length() == 0 {
		e.logger.Warn("no flight rows found", zap.String("selector", rowSelector))
		record.Reason = ReasonNoRows
		return record
	}
	e.logger.Info("scanning flight rows",
		zap.Int("rows", rows.Length()),
		zap.String("flight_number", flightNumber))

	matched := false
	var minPrice float64
	havePrice := false

	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		number := strings.TrimSpace(row.Find(flightNumberSelector).First().Text())
		if number != flightNumber {
			return true
		}
		matched = true
		e.logger.Info("target flight row found", zap.String("flight_number", flightNumber))

		cells := row.Find(fareCellSelector)
		if cells.Length() == 0 {
			e.logger.Warn("flight row has no fare cells", zap.String("flight_number", flightNumber))
			return false
		}
		e.logger.Info("extracting fares", zap.Int("cells", cells.Length()))

		cells.Each(func(_ int, cell *goquery.Selection) {
			price, variant, ok := e.cellPrice(cell)
			if !ok {
				return
			}
			e.logger.Info("fare extracted",
				zap.Float64("price", price),
				zap.String("variant", variant))
			if !havePrice || price < minPrice {
				minPrice = price
			}
			havePrice = true
		})
		// First matching row wins; later rows are never considered.
		return false
	})

	switch {
	case !matched:
		e.logger.Warn("target flight not found", zap.String("flight_number", flightNumber))
		record.Reason = ReasonFlightNotFound
	case !havePrice:
		e.logger.Warn("flight found but no valid fare extracted",
			zap.String("flight_number", flightNumber))
		record.Reason = ReasonNoValidPrice
	default:
		e.logger.Info("minimum fare selected",
			zap.String("flight_number", flightNumber),
			zap.Float64("min_price", minPrice))
		record.MinPrice = &minPrice
		record.Reason = ReasonFound
	}
	return record
}

// cellPrice tries the two fare presentation variants in order and returns
// the first parseable value.
func (e *Extractor) cellPrice(cell *goquery.Selection) (float64, string, bool) {
	visible := cell.Find(visibleFareSelector).First()
	if visible.Length() > 0 && strings.ContainsAny(visible.Text(), "￥¥") {
		if price, ok := e.parseFareText(visible.Text()); ok {
			return price, "visible", true
		}
		return 0, "", false
	}
	if hover := cell.Find(hoverFareSelector).First(); hover.Length() > 0 {
		if price, ok := e.parseFareText(hover.Text()); ok {
			return price, "hover", true
		}
	}
	return 0, "", false
}

// parseFareText parses a displayed fare like "￥1,234.50" into a float. Text
// without a currency glyph or a leading numeric token contributes no value.
func (e *Extractor) parseFareText(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.ContainsAny(raw, "￥¥") {
		return 0, false
	}
	cleaned := strings.NewReplacer("￥", "", "¥", "", ",", "").Replace(raw)
	cleaned = strings.TrimSpace(cleaned)
	if parts := strings.Fields(cleaned); len(parts) > 0 {
		cleaned = parts[0]
	} else {
		cleaned = ""
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		e.logger.Warn("fare text not numeric",
			zap.String("raw", raw),
			zap.String("cleaned", cleaned))
		return 0, false
	}
	return price, true
}
