package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-see/groove2groove/pkg/generation"
	"github.com/james-see/groove2groove/pkg/sequence"
	"github.com/james-see/groove2groove/pkg/session"
	"github.com/james-see/groove2groove/pkg/slots"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func performance(pitch int) *sequence.Sequence {
	return &sequence.Sequence{
		Notes: []sequence.Note{
			{Pitch: pitch, Velocity: 90, StartTime: 0, EndTime: 1, Instrument: 0},
			{Pitch: pitch + 7, Velocity: 90, StartTime: 1, EndTime: 2, Instrument: 1, Program: 25},
			{Pitch: 38, Velocity: 100, StartTime: 2, EndTime: 2.5, Instrument: 2, IsDrum: true},
		},
		Tempos:    []sequence.Tempo{{QPM: 120}},
		TotalTime: 2.5,
	}
}

type stubGenerator struct {
	err error
}

func (g stubGenerator) StyleTransfer(_ context.Context, _, _ *sequence.Sequence, _ generation.Options) (*sequence.Sequence, error) {
	if g.err != nil {
		return nil, g.err
	}
	return performance(70), nil
}

func (g stubGenerator) Remix(_ context.Context, _, _ *sequence.Sequence) (*sequence.Sequence, error) {
	if g.err != nil {
		return nil, g.err
	}
	return performance(40), nil
}

func newTestRouter(t *testing.T, gen generation.Generator) (*gin.Engine, *session.Coordinator) {
	t.Helper()
	store, err := slots.NewStore(slots.DefaultGraph)
	require.NoError(t, err)
	sess := session.New(store, gen, session.WithSettings(generation.Options{Model: "v01_drums", Temperature: 0.6}))
	return NewRouter(sess), sess
}

func do(r http.Handler, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func upload(t *testing.T, r http.Handler, slot, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return do(r, http.MethodPost, "/api/v1/slots/"+slot+"/load", body.Bytes(), mw.FormDataContentType())
}

func midiFile(t *testing.T, pitch int) []byte {
	t.Helper()
	data, err := sequence.EncodeMIDI(performance(pitch))
	require.NoError(t, err)
	return data
}

func decodeSlot(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	r, _ := newTestRouter(t, stubGenerator{})
	w := do(r, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), "groove2groove")
}

func TestLoadAndEdit(t *testing.T) {
	r, _ := newTestRouter(t, stubGenerator{})

	w := upload(t, r, "content", "prelude.mid", midiFile(t, 60))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeSlot(t, w)
	assert.Equal(t, "prelude.mid", resp["name"])
	assert.Equal(t, true, resp["ready"])
	assert.Equal(t, float64(3), resp["notes"])
	assert.Equal(t, []interface{}{"DRUMS", float64(0), float64(1)}, resp["selected"])

	w = do(r, http.MethodPut, "/api/v1/slots/content/instruments", []byte(`{"selected": ["DRUMS", 0]}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(2), decodeSlot(t, w)["notes"])

	// Steps [0, 2) at 120 QPM is the first second
	w = do(r, http.MethodPut, "/api/v1/slots/content/window", []byte(`{"start": 0, "end": 2}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decodeSlot(t, w)["notes"])

	w = do(r, http.MethodPut, "/api/v1/slots/content/window", []byte(`{"start": 3, "end": 1}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/api/v1/slots/content/tempo", []byte(`{"qpm": 90}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(90), decodeSlot(t, w)["qpm"])

	w = do(r, http.MethodGet, "/api/v1/slots/content/midi", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/midi", w.Header().Get("Content-Type"))
	seq, err := sequence.DecodeMIDI("x.mid", w.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, seq.Notes, 1)
}

func TestErrorStatuses(t *testing.T) {
	r, _ := newTestRouter(t, stubGenerator{err: generation.ErrNetwork})

	w := do(r, http.MethodGet, "/api/v1/slots/bogus", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = upload(t, r, "content", "broken.mid", []byte("MThd garbage"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = upload(t, r, "remix", "a.mid", midiFile(t, 60))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/slots/output/generate", nil, "")
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = do(r, http.MethodPut, "/api/v1/slots/style/window", []byte(`{"start": 0, "end": 4}`), "application/json")
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	require.Equal(t, http.StatusOK, upload(t, r, "content", "a.mid", midiFile(t, 60)).Code)
	require.Equal(t, http.StatusOK, upload(t, r, "style", "b.mid", midiFile(t, 48)).Code)

	w = do(r, http.MethodPost, "/api/v1/slots/output/generate", nil, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = do(r, http.MethodPost, "/api/v1/slots/content/play", nil, "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	r, sess := newTestRouter(t, stubGenerator{})
	data := midiFile(t, 60)

	limit := maxUploadSize
	maxUploadSize = int64(len(data)) - 1
	t.Cleanup(func() { maxUploadSize = limit })

	w := upload(t, r, "content", "big.mid", data)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.False(t, sess.Store().Ready(slots.Content))

	maxUploadSize = int64(len(data))
	w = upload(t, r, "content", "fits.mid", data)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerateAndControls(t *testing.T) {
	r, sess := newTestRouter(t, stubGenerator{})
	require.Equal(t, http.StatusOK, upload(t, r, "content", "bach.mid", midiFile(t, 60)).Code)
	require.Equal(t, http.StatusOK, upload(t, r, "style", "funk.mid", midiFile(t, 48)).Code)

	w := do(r, http.MethodPost, "/api/v1/slots/output/generate", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "bach__funk.mid", decodeSlot(t, w)["name"])

	w = do(r, http.MethodGet, "/api/v1/slots/remix", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeSlot(t, w)["ready"])

	w = do(r, http.MethodGet, "/api/v1/controls", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Controls map[slots.ID]slots.Controls `json:"controls"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, sess.Controls(), resp.Controls)
	assert.False(t, resp.Controls[slots.Remix].Load)
	assert.True(t, resp.Controls[slots.Remix].Generate)
}

func TestSessionRoundTrip(t *testing.T) {
	r, _ := newTestRouter(t, stubGenerator{})
	require.Equal(t, http.StatusOK, upload(t, r, "content", "bach.mid", midiFile(t, 60)).Code)

	w := do(r, http.MethodGet, "/api/v1/session", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := w.Body.Bytes()

	other, sess := newTestRouter(t, stubGenerator{})
	w = do(other, http.MethodPost, "/api/v1/session", snapshot, "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	v, err := sess.Store().Slot(slots.Content)
	require.NoError(t, err)
	assert.Equal(t, "bach.mid", v.Name())

	w = do(other, http.MethodPost, "/api/v1/session", []byte(`{"version": 7}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettings(t *testing.T) {
	r, _ := newTestRouter(t, stubGenerator{})

	w := do(r, http.MethodPut, "/api/v1/settings", []byte(`{"model": "v01", "sample": true, "softmax_temperature": 0.9}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/v1/settings", nil, "")
	var opts generation.Options
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opts))
	assert.Equal(t, generation.Options{Model: "v01", Sample: true, Temperature: 0.9}, opts)
}
