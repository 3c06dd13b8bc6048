package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Credentials describes a service account, either as a JSON key file or as
// individual fields.
type Credentials struct {
	File         string
	ProjectID    string
	PrivateKeyID string
	PrivateKey   string
	ClientEmail  string
	ClientID     string
}

// ClientOptions turns credentials into Google API client options.
func (c Credentials) ClientOptions() ([]option.ClientOption, error) {
	opts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}

	if c.File != "" {
		return append(opts, option.WithCredentialsFile(c.File)), nil
	}
	if c.ClientEmail == "" || c.PrivateKey == "" {
		return nil, errors.New("service account credentials are required")
	}

	key := map[string]string{
		"type":                        "service_account",
		"project_id":                  c.ProjectID,
		"private_key_id":              c.PrivateKeyID,
		"private_key":                 c.PrivateKey,
		"client_email":                c.ClientEmail,
		"client_id":                   c.ClientID,
		"auth_uri":                    "https://accounts.google.com/o/oauth2/auth",
		"token_uri":                   "https://oauth2.googleapis.com/token",
		"auth_provider_x509_cert_url": "https://www.googleapis.com/oauth2/v1/certs",
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("encode service account: %w", err)
	}
	return append(opts, option.WithCredentialsJSON(raw)), nil
}

// GoogleDialer returns a Dialer that opens worksheet title in spreadsheetID,
// creating the worksheet when it does not exist.
func GoogleDialer(spreadsheetID, title string, opts ...option.ClientOption) Dialer {
	return func(ctx context.Context) (Table, error) {
		svc, err := gsheets.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create sheets client: %w", err)
		}
		return OpenWorksheet(ctx, svc, spreadsheetID, title)
	}
}

// GoogleTable is a Table backed by the Sheets v4 API.
type GoogleTable struct {
	svc           *gsheets.Service
	spreadsheetID string
	title         string
}

// OpenWorksheet finds title in the spreadsheet or adds it.
func OpenWorksheet(ctx context.Context, svc *gsheets.Service, spreadsheetID, title string) (*GoogleTable, error) {
	doc, err := svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}

	t := &GoogleTable{svc: svc, spreadsheetID: spreadsheetID, title: title}
	for _, s := range doc.Sheets {
		if s.Properties != nil && s.Properties.Title == title {
			return t, nil
		}
	}

	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{
					Title: title,
					GridProperties: &gsheets.GridProperties{
						RowCount:       1000,
						ColumnCount:    int64(len(Header)),
						FrozenRowCount: 1,
					},
				},
			},
		}},
	}
	if _, err := svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("create worksheet %q: %w", title, err)
	}
	return t, nil
}

func (t *GoogleTable) Header(ctx context.Context) ([]string, error) {
	vr, err := t.svc.Spreadsheets.Values.Get(t.spreadsheetID, t.rangeOf("1:1")).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(vr.Values) == 0 {
		return nil, nil
	}
	return toStrings(vr.Values[0]), nil
}

func (t *GoogleTable) SetHeader(ctx context.Context, header []string) error {
	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	rng := t.rangeOf("A1:" + columnLetter(len(header)-1) + "1")
	_, err := t.svc.Spreadsheets.Values.Update(t.spreadsheetID, rng, &gsheets.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (t *GoogleTable) Column(ctx context.Context, index int) ([]string, error) {
	col := columnLetter(index)
	vr, err := t.svc.Spreadsheets.Values.Get(t.spreadsheetID, t.rangeOf(col+"2:"+col)).
		MajorDimension("COLUMNS").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if len(vr.Values) == 0 {
		return nil, nil
	}
	return toStrings(vr.Values[0]), nil
}

func (t *GoogleTable) Append(ctx context.Context, values []interface{}) error {
	_, err := t.svc.Spreadsheets.Values.Append(t.spreadsheetID, t.rangeOf("A1"), &gsheets.ValueRange{
		Values: [][]interface{}{values},
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

func (t *GoogleTable) rangeOf(cells string) string {
	return "'" + strings.ReplaceAll(t.title, "'", "''") + "'!" + cells
}

// columnLetter converts a zero-based index to A1 notation (0 -> A, 26 -> AA).
func columnLetter(index int) string {
	s := ""
	for index >= 0 {
		s = string(rune('A'+index%26)) + s
		index = index/26 - 1
	}
	return s
}

func toStrings(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = fmt.Sprint(v)
	}
	return out
}
