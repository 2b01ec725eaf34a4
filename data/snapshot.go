package data

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banachtech/svi-surface/util"
)

const (
	OptionsFile = "Options.csv"
	FuturesFile = "Futures.csv"
)

var (
	optionsHeader = []string{"type", "strike", "expiration", "implied_volatility", "mark_price", "spot", "utc_t0"}
	futuresHeader = []string{"instrument", "expiration", "last_price", "mark_price", "index_price", "spot", "utc_t0"}
)

func ff(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// SaveSnapshot writes snap under <dir>/<label>/ and returns that directory.
func SaveSnapshot(dir string, snap Snapshot) (string, error) {
	root := filepath.Join(dir, snap.Label)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}

	options := [][]string{optionsHeader}
	for _, o := range snap.Options {
		options = append(options, []string{
			o.Type, ff(o.Strike), strconv.FormatInt(o.Expiration, 10), ff(o.ImpliedVol),
			ff(o.MarkPrice), ff(o.Spot), o.T0.UTC().Format(time.RFC3339Nano),
		})
	}
	if err := writeCSV(filepath.Join(root, OptionsFile), options); err != nil {
		return "", err
	}

	futures := [][]string{futuresHeader}
	for _, f := range snap.Futures {
		futures = append(futures, []string{
			f.Instrument, strconv.FormatInt(f.Expiration, 10), ff(f.LastPrice), ff(f.MarkPrice),
			ff(f.IndexPrice), ff(f.Spot), f.T0.UTC().Format(time.RFC3339Nano),
		})
	}
	if err := writeCSV(filepath.Join(root, FuturesFile), futures); err != nil {
		return "", err
	}
	return root, nil
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(file)
	if err := w.WriteAll(rows); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

func readCSV(path string, header []string) ([]map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("read %s: missing header", path)
	}
	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[h] = i
	}
	for _, h := range header {
		if _, ok := idx[h]; !ok {
			return nil, fmt.Errorf("read %s: missing column %q", path, h)
		}
	}
	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(header))
		for _, h := range header {
			rec[h] = row[idx[h]]
		}
		out = append(out, rec)
	}
	return out, nil
}

type fieldParser struct {
	rec map[string]string
	err error
}

func (p *fieldParser) number(key string) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(p.rec[key], 64)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", key, err)
	}
	return v
}

func (p *fieldParser) integer(key string) int64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(p.rec[key], 10, 64)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", key, err)
	}
	return v
}

func (p *fieldParser) instant(key string) time.Time {
	if p.err != nil {
		return time.Time{}
	}
	v, err := time.Parse(time.RFC3339Nano, p.rec[key])
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", key, err)
	}
	return v
}

// LoadSnapshot reads the snapshot stored under <dir>/<label>/.
func LoadSnapshot(dir, label string) (Snapshot, error) {
	if _, err := util.ParseStamp(label); err != nil {
		return Snapshot{}, err
	}
	root := filepath.Join(dir, label)
	snap := Snapshot{Label: label}

	options, err := readCSV(filepath.Join(root, OptionsFile), optionsHeader)
	if err != nil {
		return Snapshot{}, err
	}
	for i, rec := range options {
		p := fieldParser{rec: rec}
		o := OptionQuote{
			Type:       rec["type"],
			Strike:     p.number("strike"),
			Expiration: p.integer("expiration"),
			ImpliedVol: p.number("implied_volatility"),
			MarkPrice:  p.number("mark_price"),
			Spot:       p.number("spot"),
			T0:         p.instant("utc_t0"),
		}
		if p.err != nil {
			return Snapshot{}, fmt.Errorf("%s row %d: %w", OptionsFile, i+1, p.err)
		}
		snap.Options = append(snap.Options, o)
	}

	futures, err := readCSV(filepath.Join(root, FuturesFile), futuresHeader)
	if err != nil {
		return Snapshot{}, err
	}
	for i, rec := range futures {
		p := fieldParser{rec: rec}
		f := FutureQuote{
			Instrument: rec["instrument"],
			Expiration: p.integer("expiration"),
			LastPrice:  p.number("last_price"),
			MarkPrice:  p.number("mark_price"),
			IndexPrice: p.number("index_price"),
			Spot:       p.number("spot"),
			T0:         p.instant("utc_t0"),
		}
		if p.err != nil {
			return Snapshot{}, fmt.Errorf("%s row %d: %w", FuturesFile, i+1, p.err)
		}
		snap.Futures = append(snap.Futures, f)
	}

	switch {
	case len(snap.Options) > 0:
		snap.Spot, snap.T0 = snap.Options[0].Spot, snap.Options[0].T0
	case len(snap.Futures) > 0:
		snap.Spot, snap.T0 = snap.Futures[0].Spot, snap.Futures[0].T0
	default:
		return Snapshot{}, fmt.Errorf("snapshot %s is empty", label)
	}
	return snap, nil
}
