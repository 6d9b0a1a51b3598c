package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/solaretp/internal/metrics"
	"github.com/lox/solaretp/internal/models"
	"github.com/lox/solaretp/internal/store"
)

// FetchResult describes one upstream call for auditing.
type FetchResult struct {
	HTTPStatus     int
	ResponseSize   int
	RecordCount    int
	RecordsMissing int
	LatestValid    time.Time
	ParseErrors    int
	ParseError     string
}

// describeSeries fills the record counts and newest valid day of series.
func (r *FetchResult) describeSeries(series models.RadiationSeries) {
	r.RecordCount = len(series)
	r.RecordsMissing = 0
	r.LatestValid = time.Time{}
	for _, d := range series {
		if !d.Value.Valid {
			r.RecordsMissing++
			continue
		}
		if d.Date.After(r.LatestValid) {
			r.LatestValid = d.Date
		}
	}
}

// RunRecorder persists audit rows for fetches. *store.Store implements it.
type RunRecorder interface {
	StartFetch(req store.FetchRequest) (*store.FetchRun, error)
	CompleteFetch(run *store.FetchRun) error
}

type fetcher struct {
	client     *http.Client
	source     string
	recorder   RunRecorder
	newBackOff func() backoff.BackOff
}

func newFetcher(client *http.Client, source string) fetcher {
	return fetcher{
		client: client,
		source: source,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
	}
}

// get fetches url, retrying rate limits and server errors with exponential
// backoff. Other non-200 statuses fail immediately.
func (f *fetcher) get(ctx context.Context, endpoint, url, accept string) ([]byte, *FetchResult, error) {
	result := &FetchResult{}
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		}

		start := time.Now()
		resp, err := f.client.Do(req)
		metrics.SourceAPILatency.WithLabelValues(f.source, endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.SourceAPICallsTotal.WithLabelValues(f.source, endpoint, "error").Inc()
			return backoff.Permanent(fmt.Errorf("fetch %s: %w", endpoint, err))
		}
		defer resp.Body.Close()

		result.HTTPStatus = resp.StatusCode
		metrics.SourceAPICallsTotal.WithLabelValues(f.source, endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch %s: retryable status %d", endpoint, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", endpoint, resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		result.ResponseSize = len(body)
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(f.newBackOff(), ctx)); err != nil {
		return nil, result, err
	}
	return body, result, nil
}

// audit records a completed fetch when a recorder is configured.
func (f *fetcher) audit(req store.FetchRequest, result *FetchResult, err error) {
	if f.recorder == nil {
		return
	}
	req.Source = f.source
	run, startErr := f.recorder.StartFetch(req)
	if startErr != nil {
		log.Printf("%s: start fetch run: %v", f.source, startErr)
		return
	}

	run.Success = err == nil
	if result != nil {
		run.HTTPStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: result.HTTPStatus > 0}
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(result.ResponseSize), Valid: result.ResponseSize > 0}
		run.RecordsParsed = sql.NullInt64{Int64: int64(result.RecordCount), Valid: true}
		run.RecordsMissing = sql.NullInt64{Int64: int64(result.RecordsMissing), Valid: true}
		run.LatestValid = sql.NullTime{Time: result.LatestValid, Valid: !result.LatestValid.IsZero()}
		if result.ParseErrors > 0 {
			run.ParseErrors = sql.NullInt64{Int64: int64(result.ParseErrors), Valid: true}
			run.ErrorMessage = sql.NullString{String: result.ParseError, Valid: true}
		}
	}
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	}

	if err := f.recorder.CompleteFetch(run); err != nil {
		log.Printf("%s: complete fetch run %d: %v", f.source, run.ID, err)
	}
}
