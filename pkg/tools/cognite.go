package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/statnett/talk2powersystem/pkg/cognite"
)

// TimeSeriesClient is the part of the Cognite client the time series tools need.
type TimeSeriesClient interface {
	ListTimeSeries(ctx context.Context, req cognite.ListTimeSeriesRequest) ([]cognite.TimeSeries, error)
	RetrieveDataPoints(ctx context.Context, req cognite.DataPointsRequest) ([]cognite.DataPoints, error)
}

// StringList accepts either a single JSON string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one == "" {
			*l = nil
			return nil
		}
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("expected a string or a list of strings")
	}
	*l = many
	return nil
}

const defaultTimeSeriesLimit = 25

type RetrieveTimeSeriesRequest struct {
	Limit *int       `json:"limit,omitempty" jsonschema:"description=Maximum number of time series to return. Defaults to 25. Set to -1 to return all items."`
	MRID  StringList `json:"mrid,omitempty" jsonschema:"description=Filter time series by one or more master resource IDs (mrid). Note: mrid is not the same as external_id."`
}

const retrieveTimeSeriesDescription = "Retrieve one or more time series. Optionally, the time series can be filtered by mrid."

func retrieveTimeSeries(client TimeSeriesClient) func(context.Context, RetrieveTimeSeriesRequest) (Output, error) {
	return func(ctx context.Context, req RetrieveTimeSeriesRequest) (Output, error) {
		limit := defaultTimeSeriesLimit
		if req.Limit != nil {
			limit = *req.Limit
		}
		if limit < -1 {
			return Output{}, errors.Errorf("limit must be -1 or greater, got %d", limit)
		}
		ts, err := client.ListTimeSeries(ctx, cognite.ListTimeSeriesRequest{Limit: limit, MRIDs: req.MRID})
		if err != nil {
			return Output{}, err
		}
		return jsonOutput(ts)
	}
}

type RetrieveDataPointsRequest struct {
	ExternalID  StringList `json:"external_id" jsonschema:"required,description=One or more external IDs"`
	Limit       *int       `json:"limit,omitempty" jsonschema:"description=Maximum number of datapoints to return for each time series. If there are no aggregates and the time period is long a default limit of 10 must be applied."`
	Start       string     `json:"start,omitempty" jsonschema:"description=Get datapoints starting from and including this time. ISO 8601 in UTC or <positive-integer>(s|m|h|d|w)-(ago|ahead) such as 2d-ago."`
	End         string     `json:"end,omitempty" jsonschema:"description=Get datapoints up to but excluding this time. ISO 8601 in UTC or now or <positive-integer>(s|m|h|d|w)-(ago|ahead). Defaults to now."`
	Aggregates  StringList `json:"aggregates,omitempty" jsonschema:"description=The aggregates to return such as average or count. Requires granularity."`
	Granularity string     `json:"granularity,omitempty" jsonschema:"description=The time granularity size and unit to aggregate over such as 5m or 1day. Requires aggregates."`
}

const retrieveDataPointsDescription = "Retrieve datapoints for one or more time series"

func retrieveDataPoints(client TimeSeriesClient) func(context.Context, RetrieveDataPointsRequest) (Output, error) {
	return func(ctx context.Context, req RetrieveDataPointsRequest) (Output, error) {
		if req.Limit != nil && *req.Limit < 0 {
			return Output{}, errors.Errorf("limit must be non-negative, got %d", *req.Limit)
		}
		ids := make([]string, 0, len(req.ExternalID))
		for _, id := range req.ExternalID {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		dps, err := client.RetrieveDataPoints(ctx, cognite.DataPointsRequest{
			ExternalIDs: ids,
			Start:       cognite.ParseTime(req.Start),
			End:         cognite.ParseTime(req.End),
			Limit:       req.Limit,
			Aggregates:  req.Aggregates,
			Granularity: strings.TrimSpace(req.Granularity),
		})
		if err != nil {
			return Output{}, err
		}
		return jsonOutput(dps)
	}
}

func jsonOutput(v any) (Output, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Output{}, errors.Wrap(err, "encode tool output")
	}
	return Text(string(b)), nil
}
