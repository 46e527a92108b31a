package grocery

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// decimalPrice accepts plain decimal numbers such as 50, -3, 25.50 or .5.
var decimalPrice = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

// Item is a single grocery entry. The JSON names are the on-disk cache format.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	ImageURL string `json:"imageUrl"`
}

// Validate checks the fields a user must supply before any mutation.
func (i Item) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	price := strings.TrimSpace(i.Price)
	if price == "" {
		return fmt.Errorf("%w: price is required", ErrInvalidItem)
	}
	if !decimalPrice.MatchString(price) {
		return fmt.Errorf("%w: price %q is not a number", ErrInvalidItem, i.Price)
	}
	return nil
}

// Row returns the item in remote column order: id, name, price, imageUrl.
func (i Item) Row() []interface{} {
	return []interface{}{i.ID, i.Name, i.Price, i.ImageURL}
}

// NormalizeRows converts a tabular remote response into items. The first row
// is the header and is dropped.
func NormalizeRows(rows [][]interface{}) []Item {
	if len(rows) <= 1 {
		return []Item{}
	}

	items := make([]Item, 0, len(rows)-1)
	for pos, row := range rows[1:] {
		items = append(items, Item{
			ID:       stringOr(extractStringField(row, 0), fmt.Sprintf("temp-%d", pos)),
			Name:     extractStringField(row, 1),
			Price:    stringOr(extractStringField(row, 2), "0"),
			ImageURL: extractStringField(row, 3),
		})
	}
	return items
}

// extractStringField safely extracts a string field from a row at the given index
func extractStringField(row []interface{}, index int) string {
	if len(row) > index && row[index] != nil {
		return cellString(row[index])
	}
	return ""
}

// cellString renders a spreadsheet cell without exponent notation, so numeric
// ids such as 1712345678901 survive the trip through JSON.
func cellString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
