// Package sample derives per-site sample indexes and time periods, and keeps
// only the most recent sample per (site, period) group.
//
// Each of the three operations is independently skippable: when the columns
// it needs are absent it reports itself as not applied and the caller records
// a warning instead of failing the run.
package sample

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
)

// Unknown labels rows whose year falls outside every period rule.
const Unknown = "Unknown"

// Rule is one ordered period rule; bounds are inclusive calendar years.
type Rule struct {
	From  int
	To    int
	Label string
}

// DefaultRules returns the survey's period layout.
func DefaultRules() []Rule {
	return []Rule{
		{From: 1995, To: 2000, Label: "1995-2000"},
		{From: 2008, To: 2012, Label: "2008-2012"},
		{From: 2013, To: 2017, Label: "2013-2017"},
		{From: 2018, To: 2023, Label: "2018-2023"},
	}
}

// Match returns the label of the first rule containing year.
func Match(rules []Rule, year float64) string {
	for _, r := range rules {
		if year >= float64(r.From) && year <= float64(r.To) {
			return r.Label
		}
	}
	return Unknown
}

// suffixPattern captures the trailing two-digit sample index of a site
// identifier, e.g. "BankW-04" → 4.
var suffixPattern = regexp.MustCompile(`-(\d{2})$`)

// DeriveCounts appends countCol holding the identifier's numeric suffix.
// Returns applied=false untouched when idCol is absent. Any identifier
// without a parseable suffix aborts the run; the source format guarantees
// the suffix, so a miss means corrupt input.
func DeriveCounts(t *dataset.Table, idCol, countCol string) (*dataset.Table, bool, error) {
	if !t.HasColumn(idCol) {
		return t, false, nil
	}
	idx, _ := t.ColumnIndex(idCol)

	counts := make([]dataset.Value, t.NumRows())
	for row := 0; row < t.NumRows(); row++ {
		v := t.Cell(row, idx)
		if v.Kind != dataset.KindText {
			return nil, true, errors.SampleCountError(row, v.String())
		}
		m := suffixPattern.FindStringSubmatch(v.Str)
		if m == nil {
			return nil, true, errors.SampleCountError(row, v.Str)
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, true, errors.SampleCountError(row, v.Str)
		}
		counts[row] = dataset.Number(float64(n))
	}

	out := t.Clone()
	if err := out.AppendColumn(countCol, counts); err != nil {
		return nil, true, err
	}
	return out, true, nil
}

// AssignPeriods appends periodCol labeling each row's year by the ordered
// rules. Non-numeric or missing years label as Unknown. Returns
// applied=false untouched when yearCol is absent.
func AssignPeriods(t *dataset.Table, yearCol, periodCol string, rules []Rule) (*dataset.Table, bool) {
	if !t.HasColumn(yearCol) {
		return t, false
	}
	idx, _ := t.ColumnIndex(yearCol)

	labels := make([]dataset.Value, t.NumRows())
	for row := 0; row < t.NumRows(); row++ {
		label := Unknown
		if y, ok := t.Cell(row, idx).Float(); ok {
			label = Match(rules, y)
		}
		labels[row] = dataset.Text(label)
	}

	out := t.Clone()
	out.AppendColumn(periodCol, labels)
	return out, true
}

// SelectionReport records the effect of latest-sample selection.
type SelectionReport struct {
	RowsBefore int
	RowsAfter  int
	Groups     int
}

// SelectLatest keeps, per (site key, period) group, only the row with the
// maximum sample count. Ties and groups without any count keep their first
// row. Surviving rows stay in original order. Returns applied=false
// untouched when any keying column is absent.
func SelectLatest(t *dataset.Table, siteCol, periodCol, countCol string) (*dataset.Table, SelectionReport, bool) {
	siteIdx, okSite := t.ColumnIndex(siteCol)
	periodIdx, okPeriod := t.ColumnIndex(periodCol)
	countIdx, okCount := t.ColumnIndex(countCol)
	if !okSite || !okPeriod || !okCount {
		return t, SelectionReport{}, false
	}

	type best struct {
		row   int
		count float64
		has   bool
	}
	groups := make(map[string]*best)
	var order []string

	for row := 0; row < t.NumRows(); row++ {
		key := groupKey(t.Cell(row, siteIdx), t.Cell(row, periodIdx))
		b, ok := groups[key]
		if !ok {
			b = &best{row: row}
			groups[key] = b
			order = append(order, key)
		}

		if c, numeric := t.Cell(row, countIdx).Float(); numeric {
			// Strict > keeps the first occurrence on ties.
			if !b.has || c > b.count {
				b.row, b.count, b.has = row, c, true
			}
		}
	}

	keep := make(map[int]bool, len(groups))
	for _, b := range groups {
		keep[b.row] = true
	}

	out := t.FilterRows(func(i int, _ []dataset.Value) bool {
		return keep[i]
	})

	report := SelectionReport{
		RowsBefore: t.NumRows(),
		RowsAfter:  out.NumRows(),
		Groups:     len(order),
	}
	return out, report, true
}

// groupKey builds a collision-safe key from the site and period cells.
func groupKey(site, period dataset.Value) string {
	var sb strings.Builder
	for _, v := range []dataset.Value{site, period} {
		switch v.Kind {
		case dataset.KindMissing:
			sb.WriteString("m;")
		case dataset.KindNumber:
			sb.WriteString("n")
			sb.WriteString(strconv.FormatFloat(v.Num, 'g', -1, 64))
			sb.WriteString(";")
		case dataset.KindText:
			sb.WriteString("t")
			sb.WriteString(strconv.Itoa(len(v.Str)))
			sb.WriteString(":")
			sb.WriteString(v.Str)
			sb.WriteString(";")
		}
	}
	return sb.String()
}
