package sse

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterSetsStreamingHeaders(t *testing.T) {
	rec := httptest.NewRecorder()

	w, err := NewWriter(rec)
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func TestWriterFramesJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Send(map[string]string{"type": "status", "status": "ready"}))

	assert.Equal(t, "data: {\"status\":\"ready\",\"type\":\"status\"}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestWriterMultipleFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.Send(map[string]string{"a": "1"}))
	require.NoError(t, w.Send(map[string]string{"b": "2"}))

	assert.Equal(t, "data: {\"a\":\"1\"}\n\ndata: {\"b\":\"2\"}\n\n", rec.Body.String())
}
