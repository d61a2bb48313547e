package fetcher

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) [][]string {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	require.NoError(t, <-errCh)
	return rows
}

func TestStreamCSV(t *testing.T) {
	t.Parallel()

	input := "name,prefecture\n株式会社テスト,東京都\n株式会社サンプル,大阪府\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	rows := collectRows(t, rowCh, errCh)

	assert.Equal(t, []string{"name", "prefecture"}, <-headerCh)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"株式会社テスト", "東京都"}, rows[0])
}

func TestStreamCSVShiftJIS(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := japanese.ShiftJIS.NewEncoder().Writer(&buf)
	_, err := io.WriteString(w, "会社名,都道府県\n株式会社テスト,東京都\n")
	require.NoError(t, err)

	rowCh, errCh := StreamCSV(context.Background(), &buf, CSVOptions{
		HasHeader: true,
		Encoding:  "shift_jis",
	})
	rows := collectRows(t, rowCh, errCh)

	require.Len(t, rows, 1)
	assert.Equal(t, []string{"株式会社テスト", "東京都"}, rows[0])
}

func TestStreamCSVTrimSpace(t *testing.T) {
	t.Parallel()

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(" a , b \n"), CSVOptions{
		TrimSpace: true,
	})
	rows := collectRows(t, rowCh, errCh)

	require.Len(t, rows, 1)
	assert.Equal(t, []string{"a", "b"}, rows[0])
}

func TestDecodeReaderUnknownEncoding(t *testing.T) {
	t.Parallel()

	_, err := DecodeReader(strings.NewReader("x"), "not-a-charset")
	assert.Error(t, err)
}

func zipWith(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestFirstCSVFromZIP(t *testing.T) {
	t.Parallel()

	data := zipWith(t, map[string]string{
		"readme.txt": "about this data",
		"data.csv":   "name,prefecture\n株式会社テスト,東京都\n",
	})

	rc, name, err := FirstCSVFromZIP(data)
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, "data.csv", name)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(content), "株式会社テスト")
}

func TestFirstCSVFromZIPNoCSV(t *testing.T) {
	t.Parallel()

	data := zipWith(t, map[string]string{"readme.txt": "nothing here"})
	_, _, err := FirstCSVFromZIP(data)
	assert.Error(t, err)
}

func TestDownloadBytes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "saleslist-enrich/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{})
	data, err := f.DownloadBytes(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDownloadRetriesServerErrors(t *testing.T) {
	t.Parallel()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxRetries: 3, PerHostRate: 1000, PerHostBurst: 1000})
	data, err := f.DownloadBytes(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, 3, attempts)
}

func TestAdaptiveLimiterAdjusts(t *testing.T) {
	t.Parallel()

	lim := NewAdaptiveLimiter(10, 10)
	assert.InDelta(t, 10, float64(lim.Limit()), 0.001)

	lim.OnRateLimit()
	assert.InDelta(t, 5, float64(lim.Limit()), 0.001)

	// Floor at initial/4.
	for range 10 {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.001)

	// Recovery is capped at 2x initial.
	for range 50 {
		lim.OnSuccess()
	}
	assert.InDelta(t, 20, float64(lim.Limit()), 0.001)
}
