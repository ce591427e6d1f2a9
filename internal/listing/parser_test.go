package listing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const pageURL = "https://www.release.tdnet.info/inbs/I_list_001_20240315.html"

const listingHTML = `<html><body>
<table id="main-list-table">
  <tr><td>時刻</td><td>コード</td><td>会社名</td><td>タイトル</td><td>XBRL</td><td>上場取引所</td><td>更新履歴</td></tr>
  <tr>
    <td class="kjTime">15:00</td>
    <td class="kjCode">72030</td>
    <td class="kjName">トヨタ自動車
      </td>
    <td class="kjTitle"><a href="140120240315512345.pdf" target="_blank">2024年3月期 決算短信〔IFRS〕(連結)</a></td>
    <td class="kjXbrl"></td><td class="kjPlace">東名</td><td class="kjHistroy"></td>
  </tr>
  <tr>
    <td>15:30</td><td>13264</td><td>SPDR</td>
    <td><a href="/inbs/140120240315599999.pdf">配当金のお知らせ</a></td>
    <td></td><td>東</td>
  </tr>
  <tr>
    <td>16:00</td><td>9999</td><td>リンクなし</td><td>決算短信</td><td></td><td>東</td>
  </tr>
  <tr><td>short</td><td>row</td></tr>
  <tr>
    <td>16:30</td><td>1301</td><td>極洋</td>
    <td><a href="https://cdn.example.com/doc.pdf">説明資料</a></td>
    <td></td><td>東</td>
  </tr>
</table>
</body></html>`

func TestParsePageExtractsRows(t *testing.T) {
	t.Parallel()

	rows, unlinked, err := ParsePage(strings.NewReader(listingHTML), pageURL)
	require.NoError(t, err)
	require.Equal(t, 1, unlinked)
	require.Len(t, rows, 3)

	first := rows[0]
	require.Equal(t, "15:00", first.Time)
	require.Equal(t, "72030", first.RawCode)
	require.Equal(t, "トヨタ自動車", first.CompanyName)
	require.Equal(t, "2024年3月期 決算短信〔IFRS〕(連結)", first.Title)
	require.Equal(t, "https://www.release.tdnet.info/inbs/140120240315512345.pdf", first.DocumentURL)

	require.Equal(t, "https://www.release.tdnet.info/inbs/140120240315599999.pdf", rows[1].DocumentURL)
	require.Equal(t, "https://cdn.example.com/doc.pdf", rows[2].DocumentURL)
}

func TestParsePageEmpty(t *testing.T) {
	t.Parallel()

	rows, unlinked, err := ParsePage(strings.NewReader(`<html><body><p>no filings</p></body></html>`), pageURL)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Zero(t, unlinked)
}

func TestParsePageHeaderOnly(t *testing.T) {
	t.Parallel()

	html := `<table><tr><td>時刻</td><td>コード</td><td>会社名</td><td>タイトル</td><td></td><td></td></tr></table>`
	rows, unlinked, err := ParsePage(strings.NewReader(html), pageURL)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Zero(t, unlinked)
}

func TestParsePageRejectsNonHTTPLinks(t *testing.T) {
	t.Parallel()

	html := `<table><tr><td>09:00</td><td>1301</td><td>極洋</td>` +
		`<td><a href="javascript:void(0)">決算短信</a></td><td></td><td></td></tr></table>`
	rows, unlinked, err := ParsePage(strings.NewReader(html), pageURL)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Equal(t, 1, unlinked)
}

func TestParsePageBadURL(t *testing.T) {
	t.Parallel()

	_, _, err := ParsePage(strings.NewReader(listingHTML), "://bad")
	require.Error(t, err)
}
