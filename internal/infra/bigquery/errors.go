package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/dre-pipeline/internal/domain"
	"google.golang.org/api/googleapi"
)

const maxErrorLen = 2000

// classify marks rate limiting and server-side failures as transient.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return &domain.TransientNetworkError{StatusCode: apiErr.Code, Err: err}
		}
		for _, e := range apiErr.Errors {
			if e.Reason == "rateLimitExceeded" || e.Reason == "backendError" || e.Reason == "jobRateLimitExceeded" {
				return &domain.TransientNetworkError{StatusCode: apiErr.Code, Err: err}
			}
		}
	}
	return err
}

// runDML runs a DML statement to completion and returns its statistics.
func runDML(ctx context.Context, q *bigquery.Query, op string) (*bigquery.QueryStatistics, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: running query: %w", op, classify(err))
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: waiting for job: %w", op, classify(err))
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("%s: job error: %w", op, classify(err))
	}

	if status.Statistics == nil {
		return nil, nil
	}
	stats, _ := status.Statistics.Details.(*bigquery.QueryStatistics)
	return stats, nil
}

func truncate(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}
