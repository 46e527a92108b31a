package appscript

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"grocery_list/internal/grocery"

	"github.com/rs/zerolog/log"
)

// Client talks to an Apps Script web app that fronts the grocery sheet.
// Every call is a GET; mutations are selected with the action parameter.
type Client struct {
	endpoint  string
	targeting grocery.Targeting
	client    *http.Client
}

// listResponse is the body of a plain GET: all rows, header first. A script
// failure answers with the error ack fields instead.
type listResponse struct {
	Values  [][]interface{} `json:"values"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
}

// ackResponse is the body of a mutation. Status "error" is an application
// failure even when the HTTP status is 200.
type ackResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

const statusError = "error"

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func NewClient(endpoint string, targeting grocery.Targeting, timeout time.Duration) *Client {
	return &Client{
		endpoint:  endpoint,
		targeting: targeting,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) FetchAll(ctx context.Context) ([]grocery.Item, error) {
	log.Debug().Msg("Fetching groceries from Apps Script")

	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint, nil)
	if err != nil {
		return nil, &grocery.FetchError{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &grocery.FetchError{Err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Debug().
			Int("status_code", resp.StatusCode).
			Str("response_body", string(body[:min(500, len(body))])).
			Msg("Non-200 response from Apps Script")
		return nil, &grocery.FetchError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", grocery.ErrHTTPStatus, http.StatusText(resp.StatusCode)),
		}
	}

	var list listResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&list); err != nil {
		return nil, &grocery.FetchError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if list.Status == statusError {
		message := list.Message
		if message == "" {
			message = "failed to fetch items"
		}
		log.Debug().Str("message", message).Msg("Apps Script rejected fetch")
		return nil, &grocery.FetchError{Err: fmt.Errorf("%w: %s", grocery.ErrRejected, message)}
	}

	items := grocery.NormalizeRows(list.Values)
	log.Debug().
		Int("rows", len(list.Values)).
		Int("items", len(items)).
		Msg("Fetched groceries")
	return items, nil
}

func (c *Client) Add(ctx context.Context, item grocery.Item) error {
	params := itemParams("add", item)
	return c.mutate(ctx, "add", params)
}

func (c *Client) Update(ctx context.Context, item grocery.Item, index int) error {
	params := itemParams("update", item)
	c.addRow(params, index)
	return c.mutate(ctx, "update", params)
}

func (c *Client) Delete(ctx context.Context, item grocery.Item, index int) error {
	params := url.Values{}
	params.Set("action", "delete")
	params.Set("id", item.ID)
	c.addRow(params, index)
	return c.mutate(ctx, "delete", params)
}

func itemParams(action string, item grocery.Item) url.Values {
	params := url.Values{}
	params.Set("action", action)
	params.Set("id", item.ID)
	params.Set("name", item.Name)
	params.Set("price", item.Price)
	params.Set("imageUrl", item.ImageURL)
	return params
}

// addRow adds the legacy row coordinate when configured for row targeting.
func (c *Client) addRow(params url.Values, index int) {
	if c.targeting == grocery.TargetByRow {
		params.Set("row", strconv.Itoa(grocery.RowNumber(index)))
	}
}

func (c *Client) mutate(ctx context.Context, op string, params url.Values) error {
	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return &grocery.SyncError{Op: op, Err: fmt.Errorf("invalid endpoint: %w", err)}
	}
	query := reqURL.Query()
	for key, values := range params {
		query[key] = values
	}
	reqURL.RawQuery = query.Encode()

	log.Debug().
		Str("action", op).
		Str("id", params.Get("id")).
		Str("row", params.Get("row")).
		Msg("Sending mutation to Apps Script")

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL.String(), nil)
	if err != nil {
		return &grocery.SyncError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &grocery.SyncError{Op: op, Err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Debug().
			Int("status_code", resp.StatusCode).
			Str("response_body", string(body[:min(500, len(body))])).
			Msg("Non-200 response from Apps Script")
		return &grocery.SyncError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", grocery.ErrHTTPStatus, http.StatusText(resp.StatusCode)),
		}
	}

	var ack ackResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return &grocery.SyncError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if ack.Status == statusError {
		message := ack.Message
		if message == "" {
			message = fmt.Sprintf("failed to %s item", op)
		}
		log.Debug().
			Str("action", op).
			Str("message", message).
			Msg("Apps Script rejected mutation")
		return &grocery.SyncError{Op: op, Message: message, Err: grocery.ErrRejected}
	}

	log.Debug().
		Str("action", op).
		Str("status", ack.Status).
		Msg("Mutation acknowledged")
	return nil
}
