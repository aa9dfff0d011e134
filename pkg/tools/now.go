package tools

import (
	"context"
	"time"
)

const (
	nowLayout      = "2006-01-02T15:04:05-0700"
	nowDescription = "Returns the user's current date time in yyyy-mm-ddTHH:MM:SS±hhmm format (ISO 8601). Do not reuse responses."
)

type NowRequest struct{}

func now(clock func() time.Time) func(context.Context, NowRequest) (Output, error) {
	return func(context.Context, NowRequest) (Output, error) {
		return Text(clock().Format(nowLayout)), nil
	}
}
