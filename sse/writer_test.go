package sse

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noFlush struct{ http.ResponseWriter }

func TestWriter_Fragments(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteFragment("<step><step_name>add</step_name>"))
	require.NoError(t, w.WriteFragment(""))
	require.NoError(t, w.WriteFragment(`{"x":1}`))
	require.NoError(t, w.WriteFragment("</step>"))
	require.NoError(t, w.WriteError(`bad <thing> & "quote"`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)
	assert.Equal(t,
		`<step><step_name>add</step_name>{"x":1}</step><error>bad &lt;thing&gt; &amp; &#34;quote&#34;</error>`,
		rec.Body.String())
}

func TestWriter_RequiresFlusher(t *testing.T) {
	_, err := NewWriter(noFlush{httptest.NewRecorder()})
	assert.ErrorIs(t, err, ErrNoFlusher)
}
