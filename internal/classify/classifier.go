// Package classify decides which listed filings enter the ingestion pipeline.
package classify

import (
	"strings"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
	"github.com/JakeFAU/tdnet-ingest/internal/registry"
)

// Rule maps title keywords to a document type. The first rule with a keyword
// contained in the title wins.
type Rule struct {
	Type     disclosure.DocumentType
	Keywords []string
}

// Verdict is the filtering outcome for a single row.
type Verdict int

const (
	Accepted Verdict = iota
	Rejected
	MarketExcluded
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case MarketExcluded:
		return "market_excluded"
	default:
		return "unknown"
	}
}

// DefaultRules are the title keyword rules in evaluation order.
var DefaultRules = []Rule{
	{Type: disclosure.DocEarningsReport, Keywords: []string{"決算短信", "決算短", "短信", "決算", "業績"}},
	{Type: disclosure.DocPresentation, Keywords: []string{"説明資料", "補足資料", "プレゼンテーション", "資料", "説明"}},
	{Type: disclosure.DocDividend, Keywords: []string{"配当", "配当金", "配当政策"}},
	{Type: disclosure.DocOtherImportant, Keywords: []string{"開示事項", "経過", "変更", "修正", "訂正", "重要"}},
}

// DefaultExcludedMarkets are market segments whose filings are never ingested.
var DefaultExcludedMarkets = []string{
	"ETF・ETN",
	"PRO Market",
	"REIT・ベンチャーファンド・カントリーファンド・インフラファンド",
	"出資証券",
	"プライム（外国株式）",
	"スタンダード（外国株式）",
	"グロース（外国株式）",
}

// Classifier applies title rules and the market exclusion set.
type Classifier struct {
	rules    []Rule
	excluded map[string]struct{}
}

// New builds a Classifier. Nil rules fall back to DefaultRules.
func New(rules []Rule, excludedMarkets []string) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	excluded := make(map[string]struct{}, len(excludedMarkets))
	for _, m := range excludedMarkets {
		if m = strings.TrimSpace(m); m != "" {
			excluded[m] = struct{}{}
		}
	}
	return &Classifier{rules: rules, excluded: excluded}
}

// Classify maps a title to a document type; ok is false when no rule matches.
func (c *Classifier) Classify(title string) (disclosure.DocumentType, bool) {
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(title, kw) {
				return rule.Type, true
			}
		}
	}
	return "", false
}

// Excluded reports whether market is in the exclusion set.
func (c *Classifier) Excluded(market string) bool {
	_, ok := c.excluded[strings.TrimSpace(market)]
	return ok
}

// AdmitMarket reports whether the row's issuer may be ingested. Unknown codes
// and a nil registry always pass.
func (c *Classifier) AdmitMarket(row disclosure.FilingRow, reg *registry.Registry) bool {
	entry, ok := reg.Lookup(row.RawCode)
	if !ok {
		return true
	}
	return !c.Excluded(entry.Market)
}

// Evaluate runs both gates and builds the AcceptedDocument when they pass.
func (c *Classifier) Evaluate(row disclosure.FilingRow, reg *registry.Registry) (disclosure.AcceptedDocument, Verdict) {
	docType, ok := c.Classify(row.Title)
	if !ok {
		return disclosure.AcceptedDocument{}, Rejected
	}
	if !c.AdmitMarket(row, reg) {
		return disclosure.AcceptedDocument{}, MarketExcluded
	}
	return disclosure.AcceptedDocument{
		FilingRow: row,
		Code:      registry.NormalizeCode(row.RawCode),
		Type:      docType,
	}, Accepted
}
