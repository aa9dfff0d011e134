package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/statnett/talk2powersystem/pkg/chat"
)

// RetrievalSettings configures the GraphDB retrieval connector tool. The tool name and
// description come from configuration, so one deployment can expose e.g. a question
// similarity search under its own name.
type RetrievalSettings struct {
	// Client talks to the repository that hosts the connector, which may differ from the
	// main graph repository.
	Client        SPARQLClient
	Name          string
	Description   string
	ConnectorName string
	// Template placeholders: {connector_name}, {query}, {limit}.
	Template string
}

type RetrievalSearchRequest struct {
	Query string `json:"query" jsonschema:"required,description=Text query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results to return,default=10"`
}

const defaultRetrievalLimit = 10

func retrievalSearch(s RetrievalSettings) func(context.Context, RetrievalSearchRequest) (Output, error) {
	return func(ctx context.Context, req RetrievalSearchRequest) (Output, error) {
		query, err := BuildRetrievalQuery(s.Template, s.ConnectorName, req)
		if err != nil {
			return Output{}, err
		}
		raw, _, err := s.Client.Query(ctx, query)
		if err != nil {
			return Output{}, err
		}
		return Output{Content: string(raw), Artifact: query, QueryType: chat.QueryTypeSPARQL}, nil
	}
}

// BuildRetrievalQuery renders the retrieval template for one request.
func BuildRetrievalQuery(tmpl, connectorName string, req RetrievalSearchRequest) (string, error) {
	text := strings.TrimSpace(req.Query)
	if text == "" {
		return "", errors.New("query must not be empty")
	}
	if req.Limit < 0 {
		return "", errors.Errorf("limit must be at least 1, got %d", req.Limit)
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultRetrievalLimit
	}
	r := strings.NewReplacer(
		"{connector_name}", connectorName,
		"{query}", escapeLiteral(text),
		"{limit}", fmt.Sprintf("%d", limit),
	)
	return r.Replace(tmpl), nil
}
