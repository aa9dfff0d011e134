package graphdb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, query string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/repositories/cim", r.URL.Path)
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/sparql-results+json")
		handler(w, r.PostForm.Get("query"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientAsk(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, q string) {
		require.Equal(t, "ASK { ?s ?p ?o }", q)
		_, _ = fmt.Fprint(w, `{"head":{},"boolean":true}`)
	})
	c, err := NewClient(Options{BaseURL: srv.URL + "/", RepositoryID: "cim"})
	require.NoError(t, err)

	ok, err := c.Ask(context.Background(), "ASK { ?s ?p ?o }")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClientBasicAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = fmt.Fprint(w, `{"head":{},"boolean":false}`)
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, RepositoryID: "cim", Username: "admin", Password: "root"})
	require.NoError(t, err)
	_, err = c.Ask(context.Background(), "ASK {}")
	require.NoError(t, err)
	require.Equal(t, "Basic YWRtaW46cm9vdA==", gotAuth)
}

func TestClientRequiresPasswordWithUsername(t *testing.T) {
	_, err := NewClient(Options{BaseURL: "http://localhost:7200", RepositoryID: "cim", Username: "admin"})
	require.ErrorContains(t, err, "password is required")
}

func TestClientPluginStatuses(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, q string) {
		status := "COMPUTED"
		if strings.Contains(q, "autocomplete") {
			status = "ready"
		}
		_, _ = fmt.Fprintf(w, `{"head":{"vars":["status"]},"results":{"bindings":[{"status":{"type":"literal","value":%q}}]}}`, status)
	})
	c, err := NewClient(Options{BaseURL: srv.URL, RepositoryID: "cim"})
	require.NoError(t, err)

	ac, err := c.AutocompleteStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, AutocompleteReady, ac)

	rank, err := c.RDFRankStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, RDFRankComputed, rank)
}

func TestClientSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "MALFORMED QUERY: Lexical error", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, RepositoryID: "cim"})
	require.NoError(t, err)
	_, _, err = c.Query(context.Background(), "SELEC ?s")
	require.ErrorContains(t, err, "MALFORMED QUERY")
}
