package tier

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// RowKind classifies a legend row.
type RowKind string

const (
	RowNoData RowKind = "nodata"
	RowRange  RowKind = "range"
	RowOpen   RowKind = "open"
)

// NoDataColor is the swatch shown for areas without a value.
const NoDataColor = "#ffffff"

// LegendRow is one swatch of the legend. Range rows cover [Lower, Upper).
type LegendRow struct {
	Kind  RowKind  `json:"kind" enum:"nodata,range,open" doc:"Row kind"`
	Color string   `json:"color" doc:"Swatch color (CSS)"`
	Lower float64  `json:"lower" doc:"Inclusive lower bound"`
	Upper *float64 `json:"upper,omitempty" doc:"Exclusive upper bound; absent when open-ended"`
	Label string   `json:"label" doc:"Human-readable range"`
}

// Legend is the discrete color scale for one tier.
type Legend struct {
	Title string      `json:"title" doc:"Legend heading" example:"UTLA rate"`
	Tier  string      `json:"tier" doc:"Tier id" example:"utla"`
	Rows  []LegendRow `json:"rows" doc:"No-data row, closed-open ranges, open-ended top row"`
}

var printer = message.NewPrinter(language.BritishEnglish)

// BuildLegend derives the legend rows for def. finest selects the
// privacy-suppression wording for the no-data row.
func BuildLegend(def Definition, finest bool) Legend {
	noData := "Missing data"
	if finest {
		noData = "Suppressed"
	}
	rows := make([]LegendRow, 0, len(def.Buckets)+1)
	rows = append(rows, LegendRow{Kind: RowNoData, Color: NoDataColor, Label: noData})

	for i := 0; i < len(def.Buckets)-1; i++ {
		lower := def.Buckets[i].LowerBound
		upper := def.Buckets[i+1].LowerBound
		rows = append(rows, LegendRow{
			Kind:  RowRange,
			Color: def.Buckets[i].Color,
			Lower: lower,
			Upper: &upper,
			Label: rangeLabel(lower, upper),
		})
	}

	top := def.Buckets[len(def.Buckets)-1]
	rows = append(rows, LegendRow{
		Kind:  RowOpen,
		Color: top.Color,
		Lower: top.LowerBound,
		Label: formatNumber(top.LowerBound) + " +",
	})

	return Legend{Title: def.DisplayName + " rate", Tier: def.ID, Rows: rows}
}

// Legend builds the legend for tier index i.
func (r *Registry) Legend(i int) Legend {
	return BuildLegend(r.tiers[i], i == len(r.tiers)-1)
}

// rangeLabel writes integer ranges inclusively, 0 – 99 for [0, 100), and
// fractional ones with an explicit open end, 0.5 – <1.
func rangeLabel(lower, upper float64) string {
	if isInt(lower) && isInt(upper) {
		return formatNumber(lower) + " – " + formatNumber(upper-1)
	}
	return formatNumber(lower) + " – <" + formatNumber(upper)
}

func isInt(v float64) bool { return v == math.Trunc(v) }

func formatNumber(v float64) string {
	if isInt(v) {
		return printer.Sprintf("%d", int64(v))
	}
	// Shortest exact decimal form, with grouping.
	digits := strconv.FormatFloat(v, 'f', -1, 64)
	_, frac, _ := strings.Cut(digits, ".")
	return printer.Sprintf(fmt.Sprintf("%%.%df", len(frac)), v)
}
