package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"grocery_list/internal/grocery"

	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
)

// Store keeps grocery items in columns A:D of one sheet tab, header in row 1.
type Store struct {
	client        *Client
	spreadsheetID string
	sheetName     string
	targeting     grocery.Targeting
	timeout       time.Duration

	mu      sync.Mutex
	sheetID *int64
}

func NewStore(client *Client, spreadsheetID, sheetName string, targeting grocery.Targeting) *Store {
	return &Store{
		client:        client,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		targeting:     targeting,
	}
}

// WithTimeout bounds every store operation, including the reads an update or
// delete makes to locate its row. Zero means no limit beyond ctx.
func (s *Store) WithTimeout(d time.Duration) *Store {
	s.timeout = d
	return s
}

func (s *Store) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// a1 builds an A1 range on the configured tab, quoting the tab name.
func (s *Store) a1(cells string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(s.sheetName, "'", "''"), cells)
}

func (s *Store) readItems(ctx context.Context) ([]grocery.Item, error) {
	log.Debug().Str("sheet", s.sheetName).Msg("Reading grocery rows")
	rows, err := s.client.ReadSheet(ctx, s.spreadsheetID, s.a1("A1:D"))
	if err != nil {
		return nil, err
	}
	items := grocery.NormalizeRows(rows)
	log.Debug().
		Int("rows", len(rows)).
		Int("items", len(items)).
		Msg("Retrieved grocery rows")
	return items, nil
}

func (s *Store) FetchAll(ctx context.Context) ([]grocery.Item, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	items, err := s.readItems(ctx)
	if err != nil {
		return nil, &grocery.FetchError{StatusCode: statusCode(err), Err: err}
	}
	return items, nil
}

// Add appends the item unless another item already has the same name.
func (s *Store) Add(ctx context.Context, item grocery.Item) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	items, err := s.readItems(ctx)
	if err != nil {
		return syncError("add", err)
	}
	if isDuplicate(items, item) {
		log.Debug().Str("name", item.Name).Msg("Skipping duplicate entry")
		return &grocery.SyncError{Op: "add", Message: "duplicate", Err: grocery.ErrRejected}
	}

	if err := s.client.AppendRows(ctx, s.spreadsheetID, s.a1("A1"), [][]interface{}{item.Row()}); err != nil {
		return syncError("add", err)
	}

	log.Info().
		Str("id", item.ID).
		Str("name", item.Name).
		Msg("Appended grocery row")
	return nil
}

func (s *Store) Update(ctx context.Context, item grocery.Item, index int) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	row, err := s.locateRow(ctx, item, index)
	if err != nil {
		return syncError("update", err)
	}

	cellRange := s.a1(fmt.Sprintf("A%d:D%d", row, row))
	if err := s.client.UpdateRange(ctx, s.spreadsheetID, cellRange, [][]interface{}{item.Row()}); err != nil {
		return syncError("update", err)
	}

	log.Info().
		Str("id", item.ID).
		Int("row", row).
		Msg("Updated grocery row")
	return nil
}

func (s *Store) Delete(ctx context.Context, item grocery.Item, index int) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	row, err := s.locateRow(ctx, item, index)
	if err != nil {
		return syncError("delete", err)
	}

	sheetID, err := s.resolveSheetID(ctx)
	if err != nil {
		return syncError("delete", err)
	}

	if err := s.client.DeleteRow(ctx, s.spreadsheetID, sheetID, row); err != nil {
		return syncError("delete", err)
	}

	log.Info().
		Str("id", item.ID).
		Int("row", row).
		Msg("Deleted grocery row")
	return nil
}

// locateRow finds the sheet row holding item. In row targeting mode the
// local index is trusted as-is.
func (s *Store) locateRow(ctx context.Context, item grocery.Item, index int) (int, error) {
	if s.targeting == grocery.TargetByRow {
		return grocery.RowNumber(index), nil
	}

	items, err := s.readItems(ctx)
	if err != nil {
		return 0, err
	}
	for i, existing := range items {
		if existing.ID == item.ID {
			return grocery.RowNumber(i), nil
		}
	}
	return 0, fmt.Errorf("%w: id %s", grocery.ErrNotFound, item.ID)
}

func (s *Store) resolveSheetID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sheetID != nil {
		return *s.sheetID, nil
	}
	id, err := s.client.SheetID(ctx, s.spreadsheetID, s.sheetName)
	if err != nil {
		return 0, err
	}
	s.sheetID = &id
	return id, nil
}

func isDuplicate(items []grocery.Item, item grocery.Item) bool {
	name := strings.ToLower(strings.TrimSpace(item.Name))
	for _, existing := range items {
		if strings.ToLower(strings.TrimSpace(existing.Name)) == name {
			return true
		}
	}
	return false
}

func syncError(op string, err error) error {
	return &grocery.SyncError{Op: op, StatusCode: statusCode(err), Err: err}
}

// statusCode extracts the HTTP status from a Google API error, if any.
func statusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
