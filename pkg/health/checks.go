package health

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/statnett/talk2powersystem/pkg/cognite"
	"github.com/statnett/talk2powersystem/pkg/graphdb"
)

type GraphDBClient interface {
	Ask(ctx context.Context, query string) (bool, error)
	AutocompleteStatus(ctx context.Context) (string, error)
	RDFRankStatus(ctx context.Context) (string, error)
}

type GraphDBChecker struct {
	Client GraphDBClient
}

func graphDBCheck(status Status, msg string) Check {
	return Check{
		Status:          status,
		Severity:        SeverityHigh,
		ID:              "http://talk2powersystem.no/talk2powersystem-api/graphdb-healthcheck",
		Name:            "GraphDB Health Check",
		Type:            "graphdb",
		Impact:          "Chat bot won't be able to query GraphDB or tools may not function as expected.",
		Troubleshooting: "#graphdb-health-check-status-is-not-ok",
		Description:     "Checks if GraphDB repository can be queried. Also checks that the status of the autocomplete index is READY, and the RDF rank status is COMPUTED.",
		Message:         msg,
	}
}

func (c GraphDBChecker) Check(ctx context.Context) Check {
	if _, err := c.Client.Ask(ctx, "ASK { ?s ?p ?o }"); err != nil {
		log.Error().Err(err).Msg("Exception while querying GraphDB")
		return graphDBCheck(StatusError, err.Error())
	}
	ac, err := c.Client.AutocompleteStatus(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Exception while querying GraphDB")
		return graphDBCheck(StatusError, err.Error())
	}
	if ac != graphdb.AutocompleteReady {
		msg := fmt.Sprintf("The Autocomplete index status of the repository is \"%s\". It should be \"READY\".", ac)
		log.Warn().Msg(msg)
		return graphDBCheck(StatusWarning, msg)
	}
	rank, err := c.Client.RDFRankStatus(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Exception while querying GraphDB")
		return graphDBCheck(StatusError, err.Error())
	}
	if rank != graphdb.RDFRankComputed {
		msg := fmt.Sprintf("The RDF Rank status of the repository is \"%s\". It should be \"COMPUTED\".", rank)
		log.Warn().Msg(msg)
		return graphDBCheck(StatusWarning, msg)
	}
	return graphDBCheck(StatusOK, "GraphDB repository can be queried and it's configured correctly.")
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisChecker pings the Redis backed conversation store.
type RedisChecker struct {
	Store Pinger
}

func redisCheck(status Status, msg string) Check {
	return Check{
		Status:          status,
		Severity:        SeverityHigh,
		ID:              "http://talk2powersystem.no/talk2powersystem-api/redis-healthcheck",
		Name:            "Redis Health Check",
		Type:            "redis",
		Impact:          "Redis is inaccessible and the chat bot can't function",
		Troubleshooting: "#redis-health-check-status-is-not-ok",
		Description:     "Checks if Redis can be queried.",
		Message:         msg,
	}
}

func (c RedisChecker) Check(ctx context.Context) Check {
	if err := c.Store.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("Exception while pinging Redis")
		return redisCheck(StatusError, err.Error())
	}
	return redisCheck(StatusOK, "Redis can be queried.")
}

type TimeSeriesLister interface {
	ListTimeSeries(ctx context.Context, req cognite.ListTimeSeriesRequest) ([]cognite.TimeSeries, error)
}

type CogniteChecker struct {
	Client TimeSeriesLister
}

func cogniteCheck(status Status, msg string) Check {
	return Check{
		Status:          status,
		Severity:        SeverityHigh,
		ID:              "http://talk2powersystem.no/talk2powersystem-api/cognite-healthcheck",
		Name:            "Cognite Health Check",
		Type:            "cognite",
		Impact:          "Chat bot won't be able to query Cognite or tools may not function as expected.",
		Troubleshooting: "#cognite-health-check-status-is-not-ok",
		Description:     "Checks if Cognite can be queried by listing the time series with limit of 1.",
		Message:         msg,
	}
}

func (c CogniteChecker) Check(ctx context.Context) Check {
	if _, err := c.Client.ListTimeSeries(ctx, cognite.ListTimeSeriesRequest{Limit: 1}); err != nil {
		log.Error().Err(err).Msg("Exception while querying Cognite")
		return cogniteCheck(StatusError, err.Error())
	}
	return cogniteCheck(StatusOK, "Cognite can be queried.")
}
