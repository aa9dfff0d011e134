package cognite

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	defaultClientName = "talk2powersystem"
	defaultProject    = "prod"
	pageSize          = 1000
)

type Options struct {
	BaseURL    string
	Project    string
	ClientName string
	// TokenFilePath holds a bearer token; it is re-read on every request so rotation works.
	TokenFilePath string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

type Client struct {
	base       string
	clientName string
	tokenFile  string
	http       *http.Client
}

func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("cognite: base url is empty")
	}
	project := opts.Project
	if project == "" {
		project = defaultProject
	}
	name := opts.ClientName
	if name == "" {
		name = defaultClientName
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:       base + "/api/v1/projects/" + url.PathEscape(project),
		clientName: name,
		tokenFile:  opts.TokenFilePath,
		http:       hc,
	}, nil
}

// TimeSeries is the subset of the Cognite time series resource the tools expose.
type TimeSeries struct {
	ID          int64             `json:"id"`
	ExternalID  string            `json:"externalId,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	IsString    bool              `json:"isString"`
	IsStep      bool              `json:"isStep"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type ListTimeSeriesRequest struct {
	// Limit < 0 fetches every page.
	Limit int
	MRIDs []string
}

func (c *Client) ListTimeSeries(ctx context.Context, req ListTimeSeriesRequest) ([]TimeSeries, error) {
	body := map[string]any{}
	if f := mridFilter(req.MRIDs); f != nil {
		body["advancedFilter"] = f
	}
	var out []TimeSeries
	cursor := ""
	for {
		limit := pageSize
		if req.Limit >= 0 {
			remaining := req.Limit - len(out)
			if remaining <= 0 {
				return out, nil
			}
			limit = min(remaining, pageSize)
		}
		body["limit"] = limit
		if cursor != "" {
			body["cursor"] = cursor
		} else {
			delete(body, "cursor")
		}
		var page struct {
			Items      []TimeSeries `json:"items"`
			NextCursor string       `json:"nextCursor"`
		}
		if err := c.post(ctx, "/timeseries/list", body, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

func mridFilter(mrids []string) map[string]any {
	if len(mrids) == 0 {
		return nil
	}
	equals := make([]map[string]any, 0, len(mrids))
	for _, m := range mrids {
		equals = append(equals, map[string]any{
			"equals": map[string]any{"property": []string{"metadata", "mrid"}, "value": m},
		})
	}
	if len(equals) == 1 {
		return equals[0]
	}
	return map[string]any{"or": equals}
}

type DataPointsRequest struct {
	ExternalIDs []string
	// Start and End are either epoch milliseconds (int64) or relative Cognite strings like "2d-ago".
	Start       any
	End         any
	Limit       *int
	Aggregates  []string
	Granularity string
}

type DataPoint struct {
	Timestamp int64    `json:"timestamp"`
	Value     any      `json:"value,omitempty"`
	Average   *float64 `json:"average,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Count     *float64 `json:"count,omitempty"`
	Sum       *float64 `json:"sum,omitempty"`
}

type DataPoints struct {
	ID         int64       `json:"id"`
	ExternalID string      `json:"externalId,omitempty"`
	Unit       string      `json:"unit,omitempty"`
	IsString   bool        `json:"isString"`
	DataPoints []DataPoint `json:"datapoints"`
}

func (c *Client) RetrieveDataPoints(ctx context.Context, req DataPointsRequest) ([]DataPoints, error) {
	if len(req.ExternalIDs) == 0 {
		return nil, errors.New("cognite: at least one external id is required")
	}
	if (len(req.Aggregates) > 0) != (req.Granularity != "") {
		return nil, errors.New("cognite: aggregates and granularity must be given together")
	}
	items := make([]map[string]any, 0, len(req.ExternalIDs))
	for _, id := range req.ExternalIDs {
		items = append(items, map[string]any{"externalId": id})
	}
	body := map[string]any{"items": items}
	if req.Start != nil {
		body["start"] = req.Start
	}
	if req.End != nil {
		body["end"] = req.End
	}
	if req.Limit != nil {
		body["limit"] = *req.Limit
	}
	if len(req.Aggregates) > 0 {
		body["aggregates"] = req.Aggregates
		body["granularity"] = req.Granularity
	}
	var resp struct {
		Items []DataPoints `json:"items"`
	}
	if err := c.post(ctx, "/timeseries/data/list", body, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "cognite: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "cognite: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-cdp-app", c.clientName)
	if c.tokenFile != "" {
		token, err := os.ReadFile(c.tokenFile)
		if err != nil {
			return errors.Wrap(err, "cognite: read token file")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(string(token)))
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "cognite: request")
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "cognite: read response")
	}
	zerolog.Ctx(ctx).Debug().
		Str("component", "cognite").
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("cognite request")
	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return errors.Errorf("cognite: %d: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return errors.Errorf("cognite: %s", resp.Status)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "cognite: decode response")
	}
	return nil
}

// ParseTime turns an ISO 8601 timestamp into epoch milliseconds in UTC. Anything else, such as
// "2d-ago" or "now", is passed through for the API to interpret.
func ParseTime(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05Z07",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02T15",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().UnixMilli()
		}
	}
	return s
}
