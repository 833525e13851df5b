package suite

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ListTables returns the sheets of a base with their display names.
func (c *Client) ListTables(ctx context.Context, baseID string) ([]Table, error) {
	var out struct {
		Items []Table `json:"items"`
	}
	endpoint := fmt.Sprintf("bitable/v1/apps/%s/tables", url.PathEscape(baseID))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// TableName resolves a table's display name, or "empty" when the table is
// not present in the base listing.
func (c *Client) TableName(ctx context.Context, baseID, tableID string) (string, error) {
	tables, err := c.ListTables(ctx, baseID)
	if err != nil {
		return "", err
	}
	for _, t := range tables {
		if t.TableID == tableID {
			return t.Name, nil
		}
	}
	return "empty", nil
}

// SearchRecords runs an exact-match filter search over a table.
func (c *Client) SearchRecords(ctx context.Context, baseID, tableID string, filter SearchFilter) ([]Record, error) {
	var out struct {
		Items []Record `json:"items"`
	}
	endpoint := fmt.Sprintf("bitable/v1/apps/%s/tables/%s/records/search",
		url.PathEscape(baseID), url.PathEscape(tableID))
	body := map[string]any{"filter": filter}
	if err := c.do(ctx, http.MethodPost, endpoint, body, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetRecord fetches one row of a table.
func (c *Client) GetRecord(ctx context.Context, baseID, tableID, recordID string) (Record, error) {
	var out struct {
		Record Record `json:"record"`
	}
	endpoint := fmt.Sprintf("bitable/v1/apps/%s/tables/%s/records/%s",
		url.PathEscape(baseID), url.PathEscape(tableID), url.PathEscape(recordID))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return Record{}, err
	}
	return out.Record, nil
}

// UpdateRecord writes field values into one row of a table.
func (c *Client) UpdateRecord(ctx context.Context, baseID, tableID, recordID string, fields map[string]any) error {
	endpoint := fmt.Sprintf("bitable/v1/apps/%s/tables/%s/records/%s",
		url.PathEscape(baseID), url.PathEscape(tableID), url.PathEscape(recordID))
	return c.do(ctx, http.MethodPut, endpoint, map[string]any{"fields": fields}, nil)
}
