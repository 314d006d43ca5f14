package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"nutrimerge/internal/config"
	jsonparser "nutrimerge/internal/parser/json"
	"nutrimerge/internal/table"
)

// FetchSwedishFood fetches one food item from the Livsmedelsverket API
// (GET <base>/v1/livsmedel/<id>).
//
// A JSON object becomes one row and a JSON array one row per element. Nested
// objects flatten to dotted keys; string arrays are joined with ","; other
// arrays are kept as JSON text.
//
// Errors:
//   - *RemoteAPIError with the status and body for a non-2xx response
//   - transport and JSON errors, wrapped
func FetchSwedishFood(ctx context.Context, c *Client, foodID string) (*table.Table, error) {
	foodID = strings.TrimSpace(foodID)
	if foodID == "" {
		return nil, fmt.Errorf("swedish food id is empty")
	}
	if c == nil || strings.TrimSpace(c.SwedishBaseURL) == "" {
		return nil, fmt.Errorf("swedish base url is not configured")
	}
	u := strings.TrimRight(c.SwedishBaseURL, "/") + "/v1/livsmedel/" + url.PathEscape(foodID)

	body, err := c.get(ctx, "swedish", u)
	if err != nil {
		return nil, err
	}
	t, err := jsonparser.ReadTable(ctx, bytes.NewReader(body), config.Options{"envelope": "none"}, nil)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", u, err)
	}
	return t, nil
}
