package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeSheetsAPI registers responders emulating the subset of the Sheets API
// the mirror uses, backed by an in-memory worksheet.
type fakeSheetsAPI struct {
	mu       sync.Mutex
	titles   []string
	header   []interface{}
	ids      []interface{}
	appended [][]interface{}
	created  int
	inputOpt string
}

func (f *fakeSheetsAPI) register(mt *httpmock.MockTransport) {
	mt.RegisterRegexpResponder(http.MethodGet, mustRegexp(`^https://sheets\.test/v4/spreadsheets/doc1(\?|$)`),
		func(*http.Request) (*http.Response, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			var sheets []map[string]any
			for _, t := range f.titles {
				sheets = append(sheets, map[string]any{"properties": map[string]any{"title": t}})
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"sheets": sheets})
		})

	mt.RegisterRegexpResponder(http.MethodPost, mustRegexp(`^https://sheets\.test/v4/spreadsheets/doc1:batchUpdate(\?|$)`),
		func(req *http.Request) (*http.Response, error) {
			var body struct {
				Requests []struct {
					AddSheet struct {
						Properties struct {
							Title string `json:"title"`
						} `json:"properties"`
					} `json:"addSheet"`
				} `json:"requests"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			f.created++
			f.titles = append(f.titles, body.Requests[0].AddSheet.Properties.Title)
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"spreadsheetId": "doc1"})
		})

	mt.RegisterRegexpResponder(http.MethodGet, mustRegexp(`^https://sheets\.test/v4/spreadsheets/doc1/values/`),
		func(req *http.Request) (*http.Response, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			switch {
			case strings.HasSuffix(req.URL.Path, "!1:1"):
				if f.header == nil {
					return httpmock.NewJsonResponse(http.StatusOK, map[string]any{})
				}
				return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"values": [][]interface{}{f.header}})
			case strings.HasSuffix(req.URL.Path, "!I2:I"):
				return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"values": [][]interface{}{f.ids}})
			}
			return httpmock.NewStringResponse(http.StatusNotFound, req.URL.Path), nil
		})

	mt.RegisterRegexpResponder(http.MethodPut, mustRegexp(`^https://sheets\.test/v4/spreadsheets/doc1/values/`),
		func(req *http.Request) (*http.Response, error) {
			var vr struct {
				Values [][]interface{} `json:"values"`
			}
			if err := json.NewDecoder(req.Body).Decode(&vr); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			f.header = vr.Values[0]
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"updatedCells": len(f.header)})
		})

	mt.RegisterRegexpResponder(http.MethodPost, mustRegexp(`^https://sheets\.test/v4/spreadsheets/doc1/values/.*:append(\?|$)`),
		func(req *http.Request) (*http.Response, error) {
			raw, _ := io.ReadAll(req.Body)
			var vr struct {
				Values [][]interface{} `json:"values"`
			}
			if err := json.Unmarshal(raw, &vr); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			f.inputOpt = req.URL.Query().Get("valueInputOption")
			f.appended = append(f.appended, vr.Values[0])
			f.ids = append(f.ids, vr.Values[0][IDColumn])
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"spreadsheetId": "doc1"})
		})
}

func newMockedDialer(t *testing.T, api *fakeSheetsAPI) Dialer {
	t.Helper()
	mt := httpmock.NewMockTransport()
	api.register(mt)
	client := &http.Client{Transport: mt}
	return GoogleDialer("doc1", "flood_reports",
		option.WithHTTPClient(client),
		option.WithEndpoint("https://sheets.test/"),
	)
}

func TestGoogleDialer_CreatesWorksheetAndHeader(t *testing.T) {
	api := &fakeSheetsAPI{titles: []string{"Sheet1"}}
	m := NewMirror(newMockedDialer(t, api), Options{})

	require.NoError(t, m.Connect(context.Background()))

	assert.Equal(t, 1, api.created)
	assert.Contains(t, api.titles, "flood_reports")
	require.Len(t, api.header, len(Header))
	assert.Equal(t, "ReportId", api.header[IDColumn])
}

func TestGoogleTable_AppendIsIdempotent(t *testing.T) {
	api := &fakeSheetsAPI{titles: []string{"flood_reports"}}
	for _, h := range Header {
		api.header = append(api.header, h)
	}
	m := NewMirror(newMockedDialer(t, api), Options{})

	row := Row{ReportID: 42, Address: "Jl. Sudirman", Severity: "Setinggi betis", ReporterName: "Sari", Status: "pending"}
	appended, err := m.Write(context.Background(), row)
	require.NoError(t, err)
	assert.True(t, appended)

	appended, err = m.Write(context.Background(), row)
	require.NoError(t, err)
	assert.False(t, appended)

	require.Len(t, api.appended, 1)
	assert.Equal(t, "USER_ENTERED", api.inputOpt)
	assert.Equal(t, "Jl. Sudirman", api.appended[0][1])
	assert.Equal(t, 0, api.created)
}

func TestGoogleDialer_SpreadsheetMissing(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterRegexpResponder(http.MethodGet, mustRegexp(`^https://sheets\.test/v4/spreadsheets/`),
		httpmock.NewStringResponder(http.StatusNotFound, `{"error":{"code":404,"message":"Requested entity was not found."}}`))
	dial := GoogleDialer("doc1", "flood_reports",
		option.WithHTTPClient(&http.Client{Transport: mt}),
		option.WithEndpoint("https://sheets.test/"),
	)

	m := NewMirror(dial, Options{OfflineAfter: 1})
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsOffline(err))
	assert.False(t, m.State().Online)
}

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", columnLetter(0))
	assert.Equal(t, "I", columnLetter(IDColumn))
	assert.Equal(t, "Z", columnLetter(25))
	assert.Equal(t, "AA", columnLetter(26))
}

func TestCredentials_ClientOptions(t *testing.T) {
	_, err := Credentials{}.ClientOptions()
	assert.Error(t, err)

	opts, err := Credentials{ClientEmail: "svc@x.iam.gserviceaccount.com", PrivateKey: "key"}.ClientOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 2)
}

func mustRegexp(expr string) *regexp.Regexp {
	return regexp.MustCompile(expr)
}
