// Package generators builds synthetic soil survey datasets for tests.
package generators

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"strconv"

	"github.com/soilflow/soilflow/pkg/dataset"
)

// metalRange bounds the generated concentration for one element.
type metalRange struct {
	name string
	min  float64
	max  float64
}

// Survey generates tables shaped like a field survey workbook: identifier
// with a sample-count suffix, site and year columns, the six critical
// measurements, then trace element concentrations.
type Survey struct {
	rng *rand.Rand

	// Sites is the number of distinct sampling sites.
	Sites int

	// Years are the sampling years rows draw from.
	Years []int

	// MissingRate is the probability a metal cell is left blank.
	MissingRate float64

	// CensorRate is the probability a metal cell reads "<limit" instead of
	// a number.
	CensorRate float64

	// CriticalMissRate is the probability a critical cell is left blank,
	// making the whole row droppable.
	CriticalMissRate float64

	// DuplicateRate is the probability a row exactly repeats the previous
	// one.
	DuplicateRate float64

	metals []metalRange
}

// NewSurvey creates a generator seeded for reproducible output.
func NewSurvey(seed int64) *Survey {
	return &Survey{
		rng:         rand.New(rand.NewSource(seed)),
		Sites:       12,
		Years:       []int{1996, 1999, 2009, 2011, 2014, 2016, 2019, 2022},
		MissingRate: 0.05,
		CensorRate:  0.02,
		metals: []metalRange{
			{"As", 2, 40},
			{"Cd", 0.05, 1.5},
			{"Cr", 5, 90},
			{"Cu", 3, 80},
			{"Ni", 3, 60},
			{"Pb", 5, 250},
			{"Zn", 20, 400},
		},
	}
}

// Columns returns the header the generated tables carry.
func (g *Survey) Columns() []string {
	cols := []string{"Site No.1", "Site Num", "Year", "pH", "TC %", "TN %", "Olsen P", "AMN", "BD"}
	for _, m := range g.metals {
		cols = append(cols, m.name)
	}
	return cols
}

// Table generates n rows of synthetic survey data.
func (g *Survey) Table(n int) *dataset.Table {
	t := dataset.New(g.Columns())

	var prev []dataset.Value
	for i := 0; i < n; i++ {
		if prev != nil && g.rng.Float64() < g.DuplicateRate {
			t.AppendRow(prev)
			continue
		}

		row := g.row()
		t.AppendRow(row)
		prev = row
	}
	return t
}

// WriteCSV generates n rows as CSV, for upload and loader tests.
func (g *Survey) WriteCSV(w io.Writer, n int) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(g.Columns()); err != nil {
		return err
	}

	table := g.Table(n)
	record := make([]string, table.NumCols())
	for i := 0; i < table.NumRows(); i++ {
		for j, v := range table.Row(i) {
			record[j] = v.String()
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func (g *Survey) row() []dataset.Value {
	site := fmt.Sprintf("Site%02d", 1+g.rng.Intn(g.Sites))
	count := 1 + g.rng.Intn(30)
	year := g.Years[g.rng.Intn(len(g.Years))]

	row := []dataset.Value{
		dataset.Text(fmt.Sprintf("%s-%02d", site, count)),
		dataset.Text(site),
		dataset.Number(float64(year)),
		g.critical(4.5, 8.5),
		g.critical(1, 12),
		g.critical(0.05, 1.2),
		g.critical(2, 80),
		g.critical(10, 250),
		g.critical(0.6, 1.6),
	}
	for _, m := range g.metals {
		row = append(row, g.metal(m))
	}
	return row
}

func (g *Survey) critical(min, max float64) dataset.Value {
	if g.rng.Float64() < g.CriticalMissRate {
		return dataset.Value{}
	}
	return dataset.Number(g.uniform(min, max))
}

func (g *Survey) metal(m metalRange) dataset.Value {
	r := g.rng.Float64()
	if r < g.MissingRate {
		return dataset.Value{}
	}
	if r < g.MissingRate+g.CensorRate {
		return dataset.Text("<" + strconv.FormatFloat(m.min, 'g', -1, 64))
	}
	return dataset.Number(g.uniform(m.min, m.max))
}

func (g *Survey) uniform(min, max float64) float64 {
	// Two decimals, matching how lab results arrive.
	v := min + g.rng.Float64()*(max-min)
	return float64(int(v*100)) / 100
}
