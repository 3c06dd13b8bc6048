package reports

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"github.com/xyz-asif/floodreport/internal/middleware"
	"github.com/xyz-asif/floodreport/internal/pkg/photo"
)

const clientIP = "192.0.2.10"

func newRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.SubmitterByIP())
	RegisterRoutes(api, NewHandler(f.svc, f.ledger, f.quota, wib, photo.DefaultMaxBytes))
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	req.RemoteAddr = clientIP + ":40000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, fields map[string]string, filename string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("photo", filename)
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func formFields() map[string]string {
	in := validInput()
	return map[string]string{
		"address":       in.Address,
		"floodHeight":   in.FloodHeight,
		"reporterName":  in.ReporterName,
		"reporterPhone": in.ReporterPhone,
	}
}

type envelope struct {
	Status string            `json:"status"`
	Data   json.RawMessage   `json:"data"`
	Total  int64             `json:"total"`
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestHandler_SubmitMultipartWithPhoto(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	r := newRouter(f)

	w := serve(r, multipartRequest(t, formFields(), "banjir.png", pngBytes(t)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var sub Submission
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &sub))
	assert.True(t, sub.Success)
	assert.Equal(t, MirrorSynced, sub.MirrorStatus)
	require.NotNil(t, sub.Report)
	require.NotNil(t, sub.Report.PhotoRef)
	assert.True(t, strings.HasSuffix(*sub.Report.PhotoRef, ".png"))
	assert.NotContains(t, w.Body.String(), clientIP)

	stored, err := f.ledger.Get(t.Context(), sub.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, clientIP, stored.SubmitterID)
}

func TestHandler_SubmitJSON(t *testing.T) {
	f := newFixture(t, fixtureOpts{noMirror: true})
	r := newRouter(f)

	body := `{"address":"Jl. Cikini 3","floodHeight":"60 cm","reporterName":"Budi"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := serve(r, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var sub Submission
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &sub))
	assert.Equal(t, "60", sub.Report.FloodHeight)
	assert.Nil(t, sub.Report.ReporterPhone)
	assert.Equal(t, MirrorNotAttempted, sub.MirrorStatus)
}

func TestHandler_SubmitErrors(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{noMirror: true})
		fields := formFields()
		fields["floodHeight"] = "up to here"
		fields["reporterName"] = ""

		w := serve(newRouter(f), multipartRequest(t, fields, "", nil))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		env := decode(t, w)
		assert.Equal(t, "VALIDATION_FAILED", env.Code)
		assert.Contains(t, env.Fields, "floodHeight")
		assert.Contains(t, env.Fields, "reporterName")
		assert.True(t, strings.HasPrefix(env.Error, "Please check the form"))
	})

	t.Run("quota", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{noMirror: true})
		for i := 0; i < 10; i++ {
			f.seed(t, testNow, clientIP, "Jl. A", "30")
		}

		w := serve(newRouter(f), multipartRequest(t, formFields(), "", nil))
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		env := decode(t, w)
		assert.Equal(t, "QUOTA_EXCEEDED", env.Code)
		assert.Contains(t, env.Error, "limit of 10 reports")
	})

	t.Run("photo too large", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{noMirror: true})
		big := make([]byte, photo.DefaultMaxBytes+10)

		w := serve(newRouter(f), multipartRequest(t, formFields(), "big.jpg", big))
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "PHOTO_TOO_LARGE", decode(t, w).Code)

		_, total, err := f.ledger.QueryAll(t.Context(), 0, 10)
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("oversized body is cut off", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{noMirror: true})
		r := gin.New()
		api := r.Group("/api/v1")
		api.Use(middleware.SubmitterByIP())
		RegisterRoutes(api, NewHandler(f.svc, f.ledger, f.quota, wib, 1024))
		huge := make([]byte, 1024+formOverhead+4096)

		// declared length over the cap
		w := serve(r, multipartRequest(t, formFields(), "huge.jpg", huge))
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "PHOTO_TOO_LARGE", decode(t, w).Code)

		// streamed body with no declared length
		req := multipartRequest(t, formFields(), "huge.jpg", huge)
		req.ContentLength = -1
		w = serve(r, req)
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "PHOTO_TOO_LARGE", decode(t, w).Code)

		_, total, err := f.ledger.QueryAll(t.Context(), 0, 10)
		require.NoError(t, err)
		assert.Zero(t, total)
		entries, err := os.ReadDir(f.photoDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("photo not an image", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{noMirror: true})

		w := serve(newRouter(f), multipartRequest(t, formFields(), "notes.txt", []byte("hello")))
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "PHOTO_INVALID_FORMAT", decode(t, w).Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		f := newFixture(t, fixtureOpts{noMirror: true})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")

		w := serve(newRouter(f), req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_ReadEndpoints(t *testing.T) {
	f := newFixture(t, fixtureOpts{noMirror: true})
	yesterday := f.seed(t, testNow.Add(-24*time.Hour), "ip-1", "Jl. A", "Setinggi lutut")
	today := f.seed(t, testNow, clientIP, "Jl. B", "Setinggi lutut")
	r := newRouter(f)

	get := func(path string) *httptest.ResponseRecorder {
		return serve(r, httptest.NewRequest(http.MethodGet, "/api/v1"+path, nil))
	}
	ids := func(w *httptest.ResponseRecorder) []int64 {
		var list []Report
		require.NoError(t, json.Unmarshal(decode(t, w).Data, &list))
		out := make([]int64, len(list))
		for i, rep := range list {
			out[i] = rep.ID
		}
		return out
	}

	w := get("/reports/today")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{today.ID}, ids(w))

	w = get("/reports/daily?date=2024-03-14")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{yesterday.ID}, ids(w))

	assert.Equal(t, http.StatusBadRequest, get("/reports/daily?date=14-03-2024").Code)

	w = get("/reports/monthly?month=2024-03")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{today.ID, yesterday.ID}, ids(w))

	w = get("/reports?page=1&limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), decode(t, w).Total)
	assert.Equal(t, []int64{today.ID}, ids(w))

	w = get("/reports/statistics")
	require.Equal(t, http.StatusOK, w.Code)
	var stats Statistics
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &stats))
	assert.Equal(t, "2024-03", stats.Month)
	assert.Equal(t, int64(2), stats.TotalReports)
	assert.Equal(t, "Setinggi lutut", stats.MostCommonSeverity)

	assert.Equal(t, http.StatusBadRequest, get("/reports/statistics?month=March").Code)

	w = get("/reports/quota")
	require.Equal(t, http.StatusOK, w.Code)
	var q Quota
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &q))
	assert.Equal(t, Quota{Limit: 10, Used: 1, Remaining: 9, ResetsAt: q.ResetsAt}, q)
	assert.True(t, time.Date(2024, 3, 16, 0, 0, 0, 0, wib).Equal(q.ResetsAt))
}

func TestHandler_GetAndRetry(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	rep := f.seed(t, testNow, clientIP, "Jl. A", "30")
	r := newRouter(f)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/reports/999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w).Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/reports/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/api/v1/reports/"+strconv.FormatInt(rep.ID, 10)+"/mirror", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got Report
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &got))
	assert.Equal(t, MirrorSynced, got.MirrorStatus)
	assert.Equal(t, 1, f.table.RowsFor(rep.ID))
}

func TestHandler_Export(t *testing.T) {
	f := newFixture(t, fixtureOpts{noMirror: true})
	f.seed(t, testNow, clientIP, "Jl. A", "30")
	r := newRouter(f)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/reports/export?month=2024-03", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "flood-reports-2024-03.xlsx")

	wb, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows(exportSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
