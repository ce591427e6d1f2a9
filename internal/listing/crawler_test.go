package listing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func TestPageURL(t *testing.T) {
	t.Parallel()

	c, err := New(&fakeFetcher{}, Config{BaseURL: "https://portal.example/inbs/"}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, "https://portal.example/inbs/I_list_001_20240315.html", c.PageURL(1, testDate))
	require.Equal(t, "https://portal.example/inbs/I_list_012_20240315.html", c.PageURL(12, testDate))

	def, err := New(&fakeFetcher{}, Config{}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL+"/I_list_001_20240315.html", def.PageURL(1, testDate))
}

func TestNewRequiresFetcher(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{}, nil)
	require.Error(t, err)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[int]Response{1: {StatusCode: http.StatusOK, Body: []byte(rowsPage(1))}}}
	c, err := New(f, Config{BaseURL: "https://portal.example/inbs"}, zap.NewNop())
	require.NoError(t, err)

	got, err := c.Probe(context.Background(), testDate)
	require.NoError(t, err)
	require.Equal(t, Available, got)

	missing := &fakeFetcher{pages: map[int]Response{1: {StatusCode: http.StatusNotFound}}}
	c, err = New(missing, Config{BaseURL: "https://portal.example/inbs"}, zap.NewNop())
	require.NoError(t, err)
	got, err = c.Probe(context.Background(), testDate)
	require.NoError(t, err)
	require.Equal(t, NotFound, got)
	require.Equal(t, "not_found", got.String())
}

func TestProbeTransportErrorIsNotFound(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{errs: map[int]error{1: errors.New("connection reset")}}
	c, err := New(f, Config{}, zap.NewNop())
	require.NoError(t, err)

	got, err := c.Probe(context.Background(), testDate)
	require.NoError(t, err)
	require.Equal(t, NotFound, got)
}

func TestProbeCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeFetcher{errs: map[int]error{1: context.Canceled}}
	c, err := New(f, Config{}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Probe(ctx, testDate)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPagesStopAtFirstEmptyPage(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[int]Response{
		1: {StatusCode: http.StatusOK, Body: []byte(rowsPage(2))},
		2: {StatusCode: http.StatusOK, Body: []byte(rowsPage(1))},
		3: {StatusCode: http.StatusOK, Body: []byte(rowsPage(3))},
		4: {StatusCode: http.StatusOK, Body: []byte(rowsPage(0))},
		5: {StatusCode: http.StatusOK, Body: []byte(rowsPage(3))},
	}}
	c, err := New(f, Config{BaseURL: "https://portal.example/inbs"}, zap.NewNop())
	require.NoError(t, err)

	pages := c.Pages(testDate)
	var indexes []int
	total := 0
	for {
		page, ok := pages.Next(context.Background())
		if !ok {
			break
		}
		indexes = append(indexes, page.Index)
		total += len(page.Rows)
	}

	require.NoError(t, pages.Err())
	require.Equal(t, []int{1, 2, 3}, indexes)
	require.Equal(t, 6, total)
	require.Equal(t, []int{1, 2, 3, 4}, f.visited())
	require.Equal(t, 4, pages.Fetched())

	_, ok := pages.Next(context.Background())
	require.False(t, ok, "sequence is not restartable")
	require.Equal(t, []int{1, 2, 3, 4}, f.visited())
}

func TestPagesStopOnNonOKStatus(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[int]Response{
		1: {StatusCode: http.StatusOK, Body: []byte(rowsPage(2))},
		2: {StatusCode: http.StatusNotFound},
	}}
	c, err := New(f, Config{}, zap.NewNop())
	require.NoError(t, err)

	pages := c.Pages(testDate)
	_, ok := pages.Next(context.Background())
	require.True(t, ok)
	_, ok = pages.Next(context.Background())
	require.False(t, ok)
	require.NoError(t, pages.Err())
}

func TestPagesFetchErrorKeepsEarlierRows(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{
		pages: map[int]Response{
			1: {StatusCode: http.StatusOK, Body: []byte(rowsPage(2))},
			3: {StatusCode: http.StatusOK, Body: []byte(rowsPage(2))},
		},
		errs: map[int]error{2: errors.New("i/o timeout")},
	}
	c, err := New(f, Config{}, zap.NewNop())
	require.NoError(t, err)

	pages := c.Pages(testDate)
	page, ok := pages.Next(context.Background())
	require.True(t, ok)
	require.Len(t, page.Rows, 2)

	_, ok = pages.Next(context.Background())
	require.False(t, ok)
	require.ErrorIs(t, pages.Err(), ErrPageFetch)
	require.Equal(t, []int{1, 2}, f.visited())
}

func TestPagesCountsUnlinkedRowsAsContent(t *testing.T) {
	t.Parallel()

	unlinkedOnly := `<table><tr><td>09:00</td><td>1301</td><td>極洋</td><td>決算短信</td><td></td><td></td></tr></table>`
	f := &fakeFetcher{pages: map[int]Response{
		1: {StatusCode: http.StatusOK, Body: []byte(unlinkedOnly)},
		2: {StatusCode: http.StatusOK, Body: []byte(rowsPage(1))},
		3: {StatusCode: http.StatusOK, Body: []byte(rowsPage(0))},
	}}
	c, err := New(f, Config{}, zap.NewNop())
	require.NoError(t, err)

	pages := c.Pages(testDate)
	first, ok := pages.Next(context.Background())
	require.True(t, ok)
	require.Empty(t, first.Rows)
	require.Equal(t, 1, first.Unlinked)

	second, ok := pages.Next(context.Background())
	require.True(t, ok)
	require.Len(t, second.Rows, 1)
}

func TestPagesMaxPages(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{fallback: &Response{StatusCode: http.StatusOK, Body: []byte(rowsPage(1))}}
	c, err := New(f, Config{MaxPages: 3}, zap.NewNop())
	require.NoError(t, err)

	pages := c.Pages(testDate)
	n := 0
	for {
		if _, ok := pages.Next(context.Background()); !ok {
			break
		}
		n++
	}
	require.Equal(t, 3, n)
	require.NoError(t, pages.Err())
}

func rowsPage(n int) string {
	html := "<html><body><table>"
	for i := 0; i < n; i++ {
		html += fmt.Sprintf(
			`<tr><td>15:%02d</td><td>%d</td><td>Company %d</td><td><a href="doc%d.pdf">決算短信</a></td><td></td><td>東</td></tr>`,
			i, 1300+i, i, i,
		)
	}
	return html + "</table></body></html>"
}

// --- fakes ---

type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[int]Response
	errs     map[int]error
	fallback *Response
	calls    []int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (Response, error) {
	var page int
	var date string
	if _, err := fmt.Sscanf(url[len(url)-len("I_list_001_20240315.html"):], "I_list_%03d_%8s", &page, &date); err != nil {
		return Response{}, fmt.Errorf("unexpected url %s: %w", url, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, page)
	if err, ok := f.errs[page]; ok {
		return Response{}, err
	}
	if resp, ok := f.pages[page]; ok {
		resp.URL = url
		return resp, nil
	}
	if f.fallback != nil {
		resp := *f.fallback
		resp.URL = url
		return resp, nil
	}
	return Response{URL: url, StatusCode: http.StatusNotFound}, nil
}

func (f *fakeFetcher) visited() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}
