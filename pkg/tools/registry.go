package tools

import (
	"context"
	"time"

	geptools "github.com/go-go-golems/geppetto/pkg/inference/tools"
	"github.com/pkg/errors"
)

type Dependencies struct {
	GraphDB      SPARQLClient
	Autocomplete AutocompleteSettings
	// Retrieval is optional; nil leaves the retrieval connector tool out.
	Retrieval *RetrievalSettings
	// Cognite is optional; the time series tools are registered only when it is set.
	Cognite TimeSeriesClient
	Timeout time.Duration
	Clock   func() time.Time
}

// Names returns the tool names a registry built from deps exposes, in registration order.
func (d Dependencies) Names() []string {
	names := []string{"sparql_query", "autocomplete_search"}
	if d.Retrieval != nil {
		names = append(names, d.Retrieval.Name)
	}
	if d.Cognite != nil {
		names = append(names, "retrieve_time_series", "retrieve_data_points")
	}
	return append(names, "now")
}

// NewRegistry builds the tool registry the agent loop runs against.
func NewRegistry(d Dependencies) (*geptools.InMemoryToolRegistry, error) {
	if d.GraphDB == nil {
		return nil, errors.New("tools: graphdb client is nil")
	}
	if r := d.Retrieval; r != nil {
		if r.Client == nil {
			return nil, errors.New("tools: retrieval client is nil")
		}
		for _, n := range []string{"sparql_query", "autocomplete_search", "retrieve_time_series", "retrieve_data_points", "now"} {
			if r.Name == n {
				return nil, errors.Errorf("tools: retrieval tool name %q is already taken", r.Name)
			}
		}
	}
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}

	registry := geptools.NewInMemoryToolRegistry()
	if err := register(registry, "sparql_query", sparqlQueryDescription, d.Timeout, sparqlQuery(d.GraphDB)); err != nil {
		return nil, err
	}
	if err := register(registry, "autocomplete_search", autocompleteDescription, d.Timeout, autocompleteSearch(d.GraphDB, d.Autocomplete)); err != nil {
		return nil, err
	}
	if r := d.Retrieval; r != nil {
		if err := register(registry, r.Name, r.Description, d.Timeout, retrievalSearch(*r)); err != nil {
			return nil, err
		}
	}
	if d.Cognite != nil {
		if err := register(registry, "retrieve_time_series", retrieveTimeSeriesDescription, d.Timeout, retrieveTimeSeries(d.Cognite)); err != nil {
			return nil, err
		}
		if err := register(registry, "retrieve_data_points", retrieveDataPointsDescription, d.Timeout, retrieveDataPoints(d.Cognite)); err != nil {
			return nil, err
		}
	}
	if err := register(registry, "now", nowDescription, d.Timeout, now(clock)); err != nil {
		return nil, err
	}
	return registry, nil
}

func register[Req any](registry *geptools.InMemoryToolRegistry, name, description string, timeout time.Duration, fn func(context.Context, Req) (Output, error)) error {
	def, err := geptools.NewToolFromFunc(name, description, Guard(name, timeout, fn))
	if err != nil {
		return errors.Wrapf(err, "%s tool", name)
	}
	if err := registry.RegisterTool(name, *def); err != nil {
		return errors.Wrapf(err, "register %s tool", name)
	}
	return nil
}
