package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
)

// Entry is one listed company.
type Entry struct {
	Code      string
	Name      string
	Market    string
	Sector    string
	SizeClass string
}

// MarketCount is a distinct market with the number of companies listed on it.
type MarketCount struct {
	Market    string
	Companies int
}

// Registry is an immutable code -> Entry table keyed by normalized code.
// A nil *Registry behaves as an empty table.
type Registry struct {
	entries map[string]Entry
}

const bom = "\ufeff"

// JPX Japanese export header and the english header of the converted companies.csv.
var columnAliases = map[string][]string{
	"code":   {"コード", "code"},
	"name":   {"銘柄名", "name"},
	"market": {"市場・商品区分", "market"},
	"sector": {"33業種区分", "sector_33"},
	"size":   {"規模区分", "size"},
}

// Load reads a registry CSV from path. Any failure is reported as
// disclosure.ErrRegistryUnavailable so callers can fall back to degraded mode.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: no registry path configured", disclosure.ErrRegistryUnavailable)
	}
	f, err := os.Open(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", disclosure.ErrRegistryUnavailable, path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	reg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", disclosure.ErrRegistryUnavailable, path, err)
	}
	return reg, nil
}

// Parse reads registry rows from CSV with a header line.
func Parse(r io.Reader) (*Registry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := indexColumns(header)
	if _, ok := cols["code"]; !ok {
		return nil, errors.New("header is missing the code column")
	}
	if _, ok := cols["market"]; !ok {
		return nil, errors.New("header is missing the market column")
	}

	entries := make(map[string]Entry)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		code := NormalizeCode(field(record, cols, "code"))
		if code == "" {
			continue
		}
		entries[code] = Entry{
			Code:      code,
			Name:      field(record, cols, "name"),
			Market:    field(record, cols, "market"),
			Sector:    field(record, cols, "sector"),
			SizeClass: NormalizeSize(field(record, cols, "size")),
		}
	}
	return &Registry{entries: entries}, nil
}

// FromEntries builds a registry from in-memory entries.
func FromEntries(entries ...Entry) *Registry {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		e.Code = NormalizeCode(e.Code)
		m[e.Code] = e
	}
	return &Registry{entries: m}
}

// Lookup returns the entry for a code. The code is normalized first.
func (r *Registry) Lookup(code string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	e, ok := r.entries[NormalizeCode(code)]
	return e, ok
}

// Len returns the number of companies.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Markets lists distinct markets ordered by company count, then name.
func (r *Registry) Markets() []MarketCount {
	if r == nil {
		return nil
	}
	counts := make(map[string]int)
	for _, e := range r.entries {
		counts[e.Market]++
	}
	out := make([]MarketCount, 0, len(counts))
	for m, n := range counts {
		out = append(out, MarketCount{Market: m, Companies: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Companies != out[j].Companies {
			return out[i].Companies > out[j].Companies
		}
		return out[i].Market < out[j].Market
	})
	return out
}

func indexColumns(header []string) map[string]int {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, bom))
		byName[h] = i
	}
	cols := make(map[string]int)
	for key, aliases := range columnAliases {
		for _, alias := range aliases {
			if idx, ok := byName[alias]; ok {
				cols[key] = idx
				break
			}
		}
	}
	return cols
}

func field(record []string, cols map[string]int, key string) string {
	idx, ok := cols[key]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
