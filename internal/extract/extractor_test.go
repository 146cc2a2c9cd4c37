package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
)

type fakeObjectStore struct {
	files map[string][]byte
}

func (f *fakeObjectStore) UploadFile(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", nil
}

func (f *fakeObjectStore) GetFile(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.files[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (f *fakeObjectStore) PresignURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	return "", time.Time{}, nil
}

func (f *fakeObjectStore) DeleteFile(ctx context.Context, key string) error { return nil }

func TestExtractSourcePlainTextDocument(t *testing.T) {
	store := &fakeObjectStore{files: map[string][]byte{
		"org/doc/readme.txt": []byte("Hello   world.\n\n\nSecond   paragraph."),
	}}
	e := NewExtractor(store, logging.NewNop())

	text, err := e.ExtractSource(context.Background(), models.Source{
		ID:          "src-1",
		Kind:        models.SourceKindDocument,
		Title:       "readme.txt",
		S3Key:       "org/doc/readme.txt",
		ContentType: "text/plain",
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello world.\n\nSecond paragraph.", text)
}

func TestExtractSourceSpreadsheet(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Region"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Revenue"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "EMEA"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 1250))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	store := &fakeObjectStore{files: map[string][]byte{
		"org/src/report.xlsx": buf.Bytes(),
	}}
	e := NewExtractor(store, logging.NewNop())

	text, err := e.ExtractSource(context.Background(), models.Source{
		ID:          "src-1",
		Kind:        models.SourceKindDocument,
		Title:       "report.xlsx",
		S3Key:       "org/src/report.xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	})

	require.NoError(t, err)
	assert.Contains(t, text, "Region Revenue")
	assert.Contains(t, text, "EMEA 1250")
}

func TestExtractSourceMissingObject(t *testing.T) {
	e := NewExtractor(&fakeObjectStore{files: map[string][]byte{}}, logging.NewNop())

	_, err := e.ExtractSource(context.Background(), models.Source{
		ID:    "src-1",
		Kind:  models.SourceKindDocument,
		S3Key: "gone",
	})

	var exErr *ExtractionError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, CauseDownload, exErr.Cause)
}

func TestExtractSourceURL(t *testing.T) {
	page := `<html><head><title>Policies</title></head><body>
		<nav>menu menu menu</nav>
		<article>
			<p>Employees accrue twenty vacation days per year, which is a generous amount compared to industry norms.</p>
			<p>Unused days roll over to the next calendar year, subject to a thirty day cap that resets every January.</p>
		</article>
	</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	e := NewExtractor(&fakeObjectStore{}, logging.NewNop())

	text, err := e.ExtractSource(context.Background(), models.Source{
		ID:   "src-1",
		Kind: models.SourceKindURL,
		URL:  srv.URL,
	})

	require.NoError(t, err)
	assert.Contains(t, text, "twenty vacation days")
	assert.Contains(t, text, "roll over")
}

func TestExtractSourceURLBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewExtractor(&fakeObjectStore{}, logging.NewNop())

	_, err := e.ExtractSource(context.Background(), models.Source{
		ID:   "src-1",
		Kind: models.SourceKindURL,
		URL:  srv.URL,
	})

	var exErr *ExtractionError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, CauseDownload, exErr.Cause)
}

func TestExtractSourceEmptyContent(t *testing.T) {
	store := &fakeObjectStore{files: map[string][]byte{
		"key": []byte("   \n\n  "),
	}}
	e := NewExtractor(store, logging.NewNop())

	_, err := e.ExtractSource(context.Background(), models.Source{
		ID:          "src-1",
		Kind:        models.SourceKindDocument,
		S3Key:       "key",
		ContentType: "text/plain",
	})

	var exErr *ExtractionError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, CauseEmpty, exErr.Cause)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b", normalize("a \t b"))
	assert.Equal(t, "a\nb", normalize("a\nb"))
	assert.Equal(t, "a\n\nb", normalize("a\n\n\n\nb"))
	assert.Equal(t, "a b", normalize("  a   b  "))
	assert.Equal(t, "ab", normalize("a\xffb"))
}
