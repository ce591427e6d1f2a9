package listing

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
)

const minCells = 6

var headerLabels = [4]string{"時刻", "コード", "会社名", "タイトル"}

// ParsePage extracts filing rows from a listing page. Document links are
// resolved against pageURL. Rows without a usable link are counted in
// unlinked instead of being returned.
func ParsePage(body io.Reader, pageURL string) (rows []disclosure.FilingRow, unlinked int, err error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, 0, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, 0, fmt.Errorf("parse listing html: %w", err)
	}

	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("td")
		if cells.Length() < minCells {
			return
		}
		fields := [4]string{}
		for i := range fields {
			fields[i] = cellText(cells.Eq(i))
			if fields[i] == "" || fields[i] == headerLabels[i] {
				return
			}
		}

		href, ok := cells.Eq(3).Find("a[href]").First().Attr("href")
		link, resolved := resolveLink(base, href)
		if !ok || !resolved {
			unlinked++
			return
		}
		rows = append(rows, disclosure.FilingRow{
			Time:        fields[0],
			RawCode:     fields[1],
			CompanyName: fields[2],
			Title:       fields[3],
			DocumentURL: link,
		})
	})
	return rows, unlinked, nil
}

func cellText(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}
