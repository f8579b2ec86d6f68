package sheets

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Entry is one audit log row appended after a successful automated reply.
type Entry struct {
	Timestamp time.Time
	From      string
	Subject   string
	Summary   string
	Reply     string
}

// Service wraps the Google Sheets API as the audit log destination.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) newClient(ctx context.Context, client *http.Client) (*sheets.Service, error) {
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return srv, nil
}

// EnsureSheet returns the spreadsheet ID to log into, creating the
// spreadsheet with a header row on first use. A pre-existing ID
// short-circuits creation, which makes the call idempotent.
func (s *Service) EnsureSheet(ctx context.Context, client *http.Client, title, existingID string) (string, error) {
	if existingID != "" {
		return existingID, nil
	}

	srv, err := s.newClient(ctx, client)
	if err != nil {
		return "", err
	}

	spreadsheet, err := srv.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title: title,
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create spreadsheet: %w", err)
	}

	header := &sheets.ValueRange{
		Values: [][]interface{}{
			{"Timestamp", "Sender", "Subject", "AI Summary", "Reply Sent"},
		},
	}
	_, err = srv.Spreadsheets.Values.
		Update(spreadsheet.SpreadsheetId, "Sheet1!A1:E1", header).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("unable to write header row: %w", err)
	}

	return spreadsheet.SpreadsheetId, nil
}

// AppendEntry appends one audit row to the spreadsheet.
func (s *Service) AppendEntry(ctx context.Context, client *http.Client, spreadsheetID string, entry *Entry) error {
	srv, err := s.newClient(ctx, client)
	if err != nil {
		return err
	}

	values := &sheets.ValueRange{
		Values: [][]interface{}{
			{
				entry.Timestamp.Format(time.RFC3339),
				entry.From,
				entry.Subject,
				entry.Summary,
				entry.Reply,
			},
		},
	}

	_, err = srv.Spreadsheets.Values.
		Append(spreadsheetID, "Sheet1!A:E", values).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("unable to append audit row: %w", err)
	}

	return nil
}
