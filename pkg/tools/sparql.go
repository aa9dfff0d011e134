package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/statnett/talk2powersystem/pkg/chat"
	"github.com/statnett/talk2powersystem/pkg/graphdb"
)

// SPARQLClient is the part of the GraphDB client the graph tools need.
type SPARQLClient interface {
	Query(ctx context.Context, query string) (json.RawMessage, *graphdb.Results, error)
}

type SPARQLQueryRequest struct {
	Query string `json:"query" jsonschema:"required,description=A valid SPARQL SELECT or CONSTRUCT or DESCRIBE or ASK query"`
}

const sparqlQueryDescription = "Query GraphDB by SPARQL SELECT, CONSTRUCT, DESCRIBE or ASK query and return result."

func sparqlQuery(client SPARQLClient) func(context.Context, SPARQLQueryRequest) (Output, error) {
	return func(ctx context.Context, req SPARQLQueryRequest) (Output, error) {
		query := strings.TrimSpace(req.Query)
		if query == "" {
			return Output{}, errors.New("query must not be empty")
		}
		raw, _, err := client.Query(ctx, query)
		if err != nil {
			return Output{}, err
		}
		return Output{Content: string(raw), Artifact: query, QueryType: chat.QueryTypeSPARQL}, nil
	}
}

// DefaultAutocompleteTemplate uses the autocomplete and RDF rank plugins of GraphDB.
// Placeholders: {query}, {property_path}, {filter_clause}, {limit}.
const DefaultAutocompleteTemplate = `PREFIX rank: <http://www.ontotext.com/owlim/RDFRank#>
PREFIX auto: <http://www.ontotext.com/plugins/autocomplete#>
SELECT ?iri ?name ?rank {
    ?iri auto:query "{query}" ;
        {property_path} ?name ;
        rank:hasRDFRank5 ?rank .
    {filter_clause}
}
ORDER BY DESC(?rank)
LIMIT {limit}`

const defaultAutocompleteLimit = 10

type AutocompleteSettings struct {
	PropertyPath string
	Template     string
}

type AutocompleteSearchRequest struct {
	Query       string `json:"query" jsonschema:"required,description=Autocomplete query text"`
	Limit       int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results,default=10"`
	ResultClass string `json:"result_class,omitempty" jsonschema:"description=Optionally restrict the results to instances of this class IRI"`
}

const autocompleteDescription = "Discover IRIs by searching their names and getting results in order of relevance."

func autocompleteSearch(client SPARQLClient, s AutocompleteSettings) func(context.Context, AutocompleteSearchRequest) (Output, error) {
	tmpl := s.Template
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultAutocompleteTemplate
	}
	return func(ctx context.Context, req AutocompleteSearchRequest) (Output, error) {
		query, err := BuildAutocompleteQuery(tmpl, s.PropertyPath, req)
		if err != nil {
			return Output{}, err
		}
		raw, _, err := client.Query(ctx, query)
		if err != nil {
			return Output{}, err
		}
		return Output{Content: string(raw), Artifact: query, QueryType: chat.QueryTypeSPARQL}, nil
	}
}

// BuildAutocompleteQuery renders the autocomplete template for one request.
func BuildAutocompleteQuery(tmpl, propertyPath string, req AutocompleteSearchRequest) (string, error) {
	text := strings.TrimSpace(req.Query)
	if text == "" {
		return "", errors.New("query must not be empty")
	}
	if strings.TrimSpace(propertyPath) == "" {
		return "", errors.New("autocomplete property path is not configured")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultAutocompleteLimit
	}
	filter := ""
	if rc := strings.TrimSpace(req.ResultClass); rc != "" {
		if strings.ContainsAny(rc, "<> \"{}") {
			return "", errors.Errorf("invalid result class %q", rc)
		}
		filter = fmt.Sprintf("?iri a <%s> .", rc)
	}
	r := strings.NewReplacer(
		"{query}", escapeLiteral(text),
		"{property_path}", propertyPath,
		"{filter_clause}", filter,
		"{limit}", fmt.Sprintf("%d", limit),
	)
	return r.Replace(tmpl), nil
}

func escapeLiteral(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`).Replace(s)
}
