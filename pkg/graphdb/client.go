package graphdb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	autocompleteStatusQuery = `SELECT ?status { ?s <http://www.ontotext.com/plugins/autocomplete#status> ?status }`
	rdfRankStatusQuery      = `SELECT ?status { ?s <http://www.ontotext.com/owlim/RDFRank#status> ?status }`
)

// AutocompleteStatus values reported by the autocomplete plugin.
const (
	AutocompleteReady       = "READY"
	AutocompleteReadyConfig = "READY_CONFIG"
	AutocompleteBuilding    = "BUILDING"
	AutocompleteNone        = "NONE"
	AutocompleteError       = "ERROR"
	AutocompleteCanceled    = "CANCELED"
)

// RDFRankStatus values reported by the RDF rank plugin.
const (
	RDFRankComputed      = "COMPUTED"
	RDFRankComputing     = "COMPUTING"
	RDFRankConfigChanged = "CONFIG_CHANGED"
	RDFRankOutdated      = "OUTDATED"
	RDFRankEmpty         = "EMPTY"
	RDFRankError         = "ERROR"
	RDFRankCanceled      = "CANCELED"
)

type Options struct {
	BaseURL        string
	RepositoryID   string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	SPARQLTimeout  time.Duration
	Username       string
	Password       string
	HTTPClient     *http.Client
}

// Client evaluates SPARQL against one GraphDB repository.
type Client struct {
	endpoint      string
	authHeader    string
	sparqlTimeout time.Duration
	http          *http.Client
}

func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("graphdb: base url is empty")
	}
	if strings.TrimSpace(opts.RepositoryID) == "" {
		return nil, errors.New("graphdb: repository id is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Wrap(err, "graphdb: parse base url")
	}
	if opts.Username != "" && opts.Password == "" {
		return nil, errors.New("graphdb: password is required if username is provided")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = newHTTPClient(opts.ConnectTimeout, opts.ReadTimeout)
	}
	c := &Client{
		endpoint:      base + "/repositories/" + url.PathEscape(opts.RepositoryID),
		sparqlTimeout: opts.SPARQLTimeout,
		http:          hc,
	}
	if opts.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		c.authHeader = "Basic " + creds
	}
	return c, nil
}

func newHTTPClient(connect, read time.Duration) *http.Client {
	if connect <= 0 {
		connect = 2 * time.Second
	}
	if read <= 0 {
		read = 10 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: connect}).DialContext
	tr.ResponseHeaderTimeout = read
	return &http.Client{Transport: tr}
}

// Binding is one variable value of a SPARQL JSON result row.
type Binding struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Lang     string `json:"xml:lang,omitempty"`
}

// Results is the SPARQL 1.1 JSON results document.
type Results struct {
	Head struct {
		Vars []string `json:"vars,omitempty"`
	} `json:"head"`
	Boolean *bool `json:"boolean,omitempty"`
	Results *struct {
		Bindings []map[string]Binding `json:"bindings"`
	} `json:"results,omitempty"`
}

// Rows is a convenience accessor over SELECT bindings.
func (r *Results) Rows() []map[string]Binding {
	if r == nil || r.Results == nil {
		return nil
	}
	return r.Results.Bindings
}

// Query evaluates query and returns the raw JSON results body plus the decoded document.
func (c *Client) Query(ctx context.Context, query string) (json.RawMessage, *Results, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil, errors.New("graphdb: query is empty")
	}
	if c.sparqlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.sparqlTimeout)
		defer cancel()
	}

	form := url.Values{}
	form.Set("query", query)
	if c.sparqlTimeout > 0 {
		form.Set("timeout", fmt.Sprintf("%d", int(c.sparqlTimeout.Seconds())))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, errors.Wrap(err, "graphdb: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "graphdb: request")
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "graphdb: read response")
	}
	zerolog.Ctx(ctx).Debug().
		Str("component", "graphdb").
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("sparql query evaluated")
	if resp.StatusCode != http.StatusOK {
		return nil, nil, errors.Errorf("graphdb: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var res Results
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, nil, errors.Wrap(err, "graphdb: decode results")
	}
	return json.RawMessage(body), &res, nil
}

// Ask evaluates an ASK query.
func (c *Client) Ask(ctx context.Context, query string) (bool, error) {
	_, res, err := c.Query(ctx, query)
	if err != nil {
		return false, err
	}
	if res.Boolean == nil {
		return false, errors.New("graphdb: ASK response has no boolean")
	}
	return *res.Boolean, nil
}

// AutocompleteStatus returns the state of the repository autocomplete index.
func (c *Client) AutocompleteStatus(ctx context.Context) (string, error) {
	return c.pluginStatus(ctx, autocompleteStatusQuery)
}

// RDFRankStatus returns the state of the RDF rank computation.
func (c *Client) RDFRankStatus(ctx context.Context) (string, error) {
	return c.pluginStatus(ctx, rdfRankStatusQuery)
}

func (c *Client) pluginStatus(ctx context.Context, query string) (string, error) {
	_, res, err := c.Query(ctx, query)
	if err != nil {
		return "", err
	}
	rows := res.Rows()
	if len(rows) == 0 {
		return "", errors.New("graphdb: plugin status query returned no rows")
	}
	status := rows[0]["status"].Value
	// autocomplete reports e.g. "READY" while some versions append details after a space
	if i := strings.IndexByte(status, ' '); i > 0 {
		status = status[:i]
	}
	return strings.ToUpper(status), nil
}
