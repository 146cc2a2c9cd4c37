// Package extract pulls raw bytes for a source and converts them to
// normalized plain text. Retry logic for network-sourced inputs is the
// caller's responsibility; this package fails fast.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"code.sajari.com/docconv"
	"github.com/PuerkitoBio/goquery"
	"github.com/extrame/xls"
	readability "github.com/go-shiori/go-readability"
	"github.com/xuri/excelize/v2"

	"github.com/knowbase/knowbase/internal/core"
	"github.com/knowbase/knowbase/internal/logging"
	"github.com/knowbase/knowbase/internal/models"
)

const (
	mimeXLS  = "application/vnd.ms-excel"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	maxSpreadsheetRows = 100000
)

type Extractor struct {
	storage core.ObjectClient
	http    *http.Client
	logger  logging.Logger
}

func NewExtractor(storage core.ObjectClient, logger logging.Logger) *Extractor {
	return &Extractor{
		storage: storage,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With("component", "extract"),
	}
}

// ExtractSource resolves the source's bytes (object storage for
// documents, HTTP for URLs) and returns normalized UTF-8 text.
func (e *Extractor) ExtractSource(ctx context.Context, src models.Source) (string, error) {
	var (
		text string
		err  error
	)
	switch src.Kind {
	case models.SourceKindURL:
		text, err = e.extractURL(ctx, src)
	default:
		text, err = e.extractDocument(ctx, src)
	}
	if err != nil {
		return "", err
	}

	text = normalize(text)
	if text == "" {
		return "", &ExtractionError{SourceID: src.ID, Cause: CauseEmpty}
	}
	return text, nil
}

func (e *Extractor) extractDocument(ctx context.Context, src models.Source) (string, error) {
	data, err := e.storage.GetFile(ctx, src.S3Key)
	if err != nil {
		return "", &ExtractionError{SourceID: src.ID, Cause: CauseDownload, Err: err}
	}

	mimeType := src.ContentType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = docconv.MimeTypeByExtension(src.Title)
	}
	if strings.HasPrefix(mimeType, "text/html") {
		return e.extractHTML(data, src)
	}

	// docconv has no spreadsheet converter and returns an empty body
	// with a nil error for workbook input, so those take their own path.
	switch mimeType {
	case mimeXLSX:
		return e.extractXLSX(data, src)
	case mimeXLS:
		return e.extractXLS(data, src)
	}

	res, err := docconv.Convert(bytes.NewReader(data), mimeType, true)
	if err != nil {
		return "", &ExtractionError{SourceID: src.ID, Cause: CauseUnsupported, Err: err}
	}
	return res.Body, nil
}

func (e *Extractor) extractURL(ctx context.Context, src models.Source) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return "", &ExtractionError{SourceID: src.ID, Cause: CauseDownload, Err: err}
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return "", &ExtractionError{SourceID: src.ID, Cause: CauseDownload, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &ExtractionError{
			SourceID: src.ID,
			Cause:    CauseDownload,
			Err:      fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, src.URL),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", &ExtractionError{SourceID: src.ID, Cause: CauseDownload, Err: err}
	}
	return e.extractHTML(data, src)
}

func (e *Extractor) extractXLSX(data []byte, src models.Source) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", &ExtractionError{SourceID: src.ID, Cause: CauseUnsupported, Err: err}
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", &ExtractionError{SourceID: src.ID, Cause: CauseUnsupported, Err: err}
		}
		b.WriteString(rowsToText(rows))
	}
	return b.String(), nil
}

func (e *Extractor) extractXLS(data []byte, src models.Source) (string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return "", &ExtractionError{SourceID: src.ID, Cause: CauseUnsupported, Err: err}
	}
	return rowsToText(wb.ReadAllCells(maxSpreadsheetRows)), nil
}

// rowsToText renders spreadsheet rows one line per row so chunking
// keeps row context together.
func rowsToText(rows [][]string) string {
	var b strings.Builder
	for _, cells := range rows {
		line := strings.TrimSpace(strings.Join(cells, "\t"))
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// extractHTML strips boilerplate with a readability pass and falls back
// to concatenated paragraph text when no main content is found.
func (e *Extractor) extractHTML(data []byte, src models.Source) (string, error) {
	pageURL, perr := url.Parse(src.URL)
	if perr != nil || src.URL == "" {
		pageURL = &url.URL{Scheme: "https", Host: "localhost"}
	}
	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.TextContent, nil
	}
	if err != nil {
		e.logger.Debug("readability failed, falling back to paragraphs", "source_id", src.ID, "error", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", &ExtractionError{SourceID: src.ID, Cause: CauseUnsupported, Err: err}
	}
	var parts []string
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		// Last resort: whole-body text.
		if t := strings.TrimSpace(doc.Text()); t != "" {
			return t, nil
		}
		return "", &ExtractionError{SourceID: src.ID, Cause: CauseEmpty}
	}
	return strings.Join(parts, "\n\n"), nil
}

// normalize collapses runs of whitespace and drops invalid UTF-8.
func normalize(text string) string {
	text = strings.ToValidUTF8(text, "")

	var b strings.Builder
	b.Grow(len(text))
	var lastSpace bool
	var lastNewlines int
	for _, r := range text {
		switch {
		case r == '\n':
			lastNewlines++
			lastSpace = false
		case unicode.IsSpace(r):
			lastSpace = true
		default:
			if lastNewlines > 0 {
				if lastNewlines > 1 {
					b.WriteString("\n\n")
				} else {
					b.WriteByte('\n')
				}
			} else if lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			lastNewlines = 0
			lastSpace = false
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
