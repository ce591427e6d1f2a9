package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tdnet-ingest/internal/disclosure"
	"github.com/JakeFAU/tdnet-ingest/internal/registry"
	"github.com/JakeFAU/tdnet-ingest/internal/storage/memory"
)

var (
	day       = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	generated = time.Date(2024, 1, 5, 18, 30, 0, 0, time.UTC)
)

func outcome(code, name string, typ disclosure.DocumentType, title string, status disclosure.OutcomeStatus) disclosure.DownloadOutcome {
	o := disclosure.DownloadOutcome{
		Document: disclosure.AcceptedDocument{
			FilingRow: disclosure.FilingRow{CompanyName: name, Title: title, Time: "15:00"},
			Code:      code,
			Type:      typ,
		},
		Status: status,
	}
	if status == disclosure.OutcomeSuccess {
		o.StorageKey = "tdnet_pdfs/2024/01/05/" + code + "_" + title + ".pdf"
		o.ByteCount = 100
		o.ContentHash = "abc"
	} else {
		o.Err = errors.New("failed")
	}
	return o
}

func TestBuildGroupsSuccessfulOutcomes(t *testing.T) {
	t.Parallel()

	reg := registry.FromEntries(registry.Entry{
		Code: "7203", Name: "トヨタ自動車", Market: "プライム（内国株式）", Sector: "輸送用機器", SizeClass: "Core30",
	})
	outcomes := []disclosure.DownloadOutcome{
		outcome("7203", "トヨタ自動車", disclosure.DocEarningsReport, "決算短信", disclosure.OutcomeSuccess),
		outcome("1301", "極洋", disclosure.DocDividend, "配当予想", disclosure.OutcomeSuccess),
		outcome("7203", "トヨタ自動車", disclosure.DocPresentation, "決算説明資料", disclosure.OutcomeSuccess),
		outcome("9999", "失敗", disclosure.DocEarningsReport, "決算短信", disclosure.OutcomeFetchFailed),
		outcome("8888", "失敗", disclosure.DocEarningsReport, "決算短信", disclosure.OutcomeUploadFailed),
	}

	m := Build(day, "run-1", generated, outcomes, reg)

	require.Equal(t, "20240105", m.Date)
	require.Equal(t, "run-1", m.RunID)
	require.Equal(t, generated, m.GeneratedAt)
	require.Equal(t, 3, m.TotalCount)
	require.Equal(t, map[disclosure.DocumentType]int{
		disclosure.DocEarningsReport: 1,
		disclosure.DocPresentation:   1,
		disclosure.DocDividend:       1,
		disclosure.DocOtherImportant: 0,
	}, m.CountsByType)

	require.Len(t, m.Companies, 2)
	require.Equal(t, "1301", m.Companies[0].Code)
	require.Empty(t, m.Companies[0].Market)

	toyota := m.Companies[1]
	require.Equal(t, "7203", toyota.Code)
	require.Equal(t, 2, toyota.DocumentCount)
	require.Equal(t, "プライム（内国株式）", toyota.Market)
	require.Equal(t, "輸送用機器", toyota.Sector)
	require.Equal(t, "Core30", toyota.SizeClass)
	require.Equal(t, "決算短信", toyota.Documents[0].Title)
	require.Equal(t, "決算説明資料", toyota.Documents[1].Title)
}

func TestBuildTotalMatchesSuccesses(t *testing.T) {
	t.Parallel()

	var outcomes []disclosure.DownloadOutcome
	for i := 0; i < 12; i++ {
		status := disclosure.OutcomeSuccess
		if i%4 == 0 {
			status = disclosure.OutcomeFetchFailed
		}
		outcomes = append(outcomes, outcome("1000", "A", disclosure.DocOtherImportant, "訂正", status))
	}
	m := Build(day, "", generated, outcomes, nil)
	require.Equal(t, 9, m.TotalCount)
	sum := 0
	for _, c := range m.Companies {
		sum += c.DocumentCount
	}
	require.Equal(t, m.TotalCount, sum)
}

func TestBuildEmpty(t *testing.T) {
	t.Parallel()

	m := Build(day, "", generated, nil, nil)
	require.Zero(t, m.TotalCount)
	require.NotNil(t, m.Companies)

	body, err := json.Marshal(m)
	require.NoError(t, err)
	require.Contains(t, string(body), `"companies":[]`)
}

func TestAggregatorWriteCreatesOnce(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	agg, err := New(store, disclosure.KeyScheme{BasePath: "tdnet_pdfs"}, fixedClock{now: generated}, nil)
	require.NoError(t, err)

	outcomes := []disclosure.DownloadOutcome{
		outcome("7203", "トヨタ自動車", disclosure.DocEarningsReport, "決算短信", disclosure.OutcomeSuccess),
	}
	key, m, err := agg.Write(context.Background(), day, "run-1", outcomes, nil)
	require.NoError(t, err)
	require.Equal(t, "tdnet_pdfs/2024/01/05/metadata_20240105.json", key)
	require.Equal(t, 1, m.TotalCount)

	obj, ok := store.Get(key)
	require.True(t, ok)
	require.Equal(t, "application/json", obj.ContentType)

	var decoded disclosure.DayManifest
	require.NoError(t, json.Unmarshal(obj.Data, &decoded))
	require.Equal(t, 1, decoded.TotalCount)
	require.Equal(t, "7203", decoded.Companies[0].Code)

	_, _, err = agg.Write(context.Background(), day, "run-2", nil, nil)
	require.ErrorIs(t, err, disclosure.ErrObjectExists)

	again, _ := store.Get(key)
	require.Equal(t, obj.Data, again.Data, "existing manifest must not change")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, disclosure.KeyScheme{}, fixedClock{}, nil)
	require.Error(t, err)
	_, err = New(memory.NewBlobStore(), disclosure.KeyScheme{}, nil, nil)
	require.Error(t, err)
}

// --- fakes ---

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}
