package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/statnett/talk2powersystem/pkg/cognite"
	"github.com/statnett/talk2powersystem/pkg/graphdb"
)

type fakeGraphDB struct {
	askErr       error
	autocomplete string
	rank         string
}

func (f fakeGraphDB) Ask(context.Context, string) (bool, error) { return true, f.askErr }
func (f fakeGraphDB) AutocompleteStatus(context.Context) (string, error) {
	return f.autocomplete, nil
}
func (f fakeGraphDB) RDFRankStatus(context.Context) (string, error) { return f.rank, nil }

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type fakeLister struct{ err error }

func (f fakeLister) ListTimeSeries(context.Context, cognite.ListTimeSeriesRequest) ([]cognite.TimeSeries, error) {
	return nil, f.err
}

func fixed(status Status, severity Severity) Checker {
	return CheckerFunc(func(context.Context) Check {
		return Check{Status: status, Severity: severity, Troubleshooting: "#x"}
	})
}

func TestGraphDBChecker(t *testing.T) {
	ok := GraphDBChecker{Client: fakeGraphDB{autocomplete: graphdb.AutocompleteReady, rank: graphdb.RDFRankComputed}}.Check(context.Background())
	require.Equal(t, StatusOK, ok.Status)
	require.Equal(t, "GraphDB repository can be queried and it's configured correctly.", ok.Message)
	require.Equal(t, SeverityHigh, ok.Severity)

	warn := GraphDBChecker{Client: fakeGraphDB{autocomplete: graphdb.AutocompleteBuilding, rank: graphdb.RDFRankComputed}}.Check(context.Background())
	require.Equal(t, StatusWarning, warn.Status)
	require.Equal(t, `The Autocomplete index status of the repository is "BUILDING". It should be "READY".`, warn.Message)

	warn = GraphDBChecker{Client: fakeGraphDB{autocomplete: graphdb.AutocompleteReady, rank: graphdb.RDFRankOutdated}}.Check(context.Background())
	require.Equal(t, `The RDF Rank status of the repository is "OUTDATED". It should be "COMPUTED".`, warn.Message)

	fail := GraphDBChecker{Client: fakeGraphDB{askErr: errors.New("connection refused")}}.Check(context.Background())
	require.Equal(t, StatusError, fail.Status)
	require.Equal(t, "connection refused", fail.Message)
}

func TestRedisAndCogniteCheckers(t *testing.T) {
	r := RedisChecker{Store: pingerFunc(func(context.Context) error { return nil })}.Check(context.Background())
	require.Equal(t, StatusOK, r.Status)
	require.Equal(t, "redis", r.Type)

	c := CogniteChecker{Client: fakeLister{err: errors.New("401")}}.Check(context.Background())
	require.Equal(t, StatusError, c.Status)
	require.Equal(t, "#cognite-health-check-status-is-not-ok", c.Troubleshooting)
}

func TestAggregation(t *testing.T) {
	info := NewRegistry(time.Second, fixed(StatusOK, SeverityHigh), fixed(StatusWarning, SeverityLow)).Health(context.Background(), "")
	require.Equal(t, StatusWarning, info.Status)
	require.True(t, info.Healthy())

	info = NewRegistry(time.Second, fixed(StatusError, SeverityLow), fixed(StatusWarning, SeverityLow)).Health(context.Background(), "")
	require.Equal(t, StatusError, info.Status)
	require.True(t, info.Healthy())

	info = NewRegistry(time.Second, fixed(StatusOK, SeverityHigh), fixed(StatusWarning, SeverityHigh)).Health(context.Background(), "")
	require.False(t, info.Healthy())

	info = NewRegistry(time.Second).Health(context.Background(), "")
	require.Equal(t, StatusOK, info.Status)
	require.Empty(t, info.HealthChecks)
}

func TestTroubleLinks(t *testing.T) {
	info := NewRegistry(0, fixed(StatusOK, SeverityHigh)).Health(context.Background(), "https://example.org/chat/__trouble")
	require.Equal(t, "https://example.org/chat/__trouble#x", info.HealthChecks[0].Troubleshooting)

	info = NewRegistry(0, fixed(StatusOK, SeverityHigh)).Health(context.Background(), "/__trouble")
	require.Equal(t, "#x", info.HealthChecks[0].Troubleshooting)
}

func TestGTGCache(t *testing.T) {
	var healthy atomic.Bool
	check := CheckerFunc(func(context.Context) Check {
		if healthy.Load() {
			return Check{Status: StatusOK, Severity: SeverityHigh}
		}
		return Check{Status: StatusError, Severity: SeverityHigh}
	})
	cache := NewGTGCache(NewRegistry(time.Second, check))
	require.Equal(t, GoodToGoUnavailable, cache.Get().GTG)

	healthy.Store(true)
	require.Equal(t, GoodToGoOK, cache.Refresh(context.Background()).GTG)

	healthy.Store(false)
	// cached until the next refresh
	require.Equal(t, GoodToGoOK, cache.Get().GTG)
	require.Equal(t, GoodToGoUnavailable, cache.Refresh(context.Background()).GTG)
}

func TestGTGCacheRunRefreshesPeriodically(t *testing.T) {
	var calls atomic.Int32
	check := CheckerFunc(func(context.Context) Check {
		calls.Add(1)
		return Check{Status: StatusOK, Severity: SeverityHigh}
	})
	cache := NewGTGCache(NewRegistry(time.Second, check))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cache.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, GoodToGoOK, cache.Get().GTG)
	cancel()
	require.NoError(t, <-done)
}
