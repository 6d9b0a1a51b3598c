package store

import (
	"database/sql"
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// FetchRequest identifies one call to an upstream source: which series was
// asked for, where, and over which calendar days.
type FetchRequest struct {
	Source    string // "power", "archive", "nws"
	Endpoint  string
	Location  string // "lat,lon" for radiation, "CC postcode" for weather
	StationID string // weather station resolved for the postcode, if any
	Start     time.Time
	End       time.Time
}

// Days is the number of calendar days the request covers, inclusive.
func (r FetchRequest) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// FetchRun is the audit row for a FetchRequest.
type FetchRun struct {
	ID int64
	FetchRequest
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	RecordsMissing    sql.NullInt64 // radiation days without a value, or samples failing QC
	LatestValid       sql.NullTime  // last day carrying a radiation value
	ParseErrors       sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// StartFetch inserts a pending run for req.
func (s *Store) StartFetch(req FetchRequest) (*FetchRun, error) {
	run := &FetchRun{FetchRequest: req, StartedAt: time.Now().UTC()}

	var station sql.NullString
	if req.StationID != "" {
		station = sql.NullString{String: req.StationID, Valid: true}
	}
	result, err := s.db.Exec(`
		INSERT INTO fetch_runs (started_at, source, endpoint, location, station_id, range_start, range_end, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, FALSE)
	`, run.StartedAt, req.Source, req.Endpoint, req.Location, station,
		req.Start.Format(dayLayout), req.End.Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("insert fetch run: %w", err)
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteFetch records the outcome of run.
func (s *Store) CompleteFetch(run *FetchRun) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	var latest sql.NullString
	if run.LatestValid.Valid {
		latest = sql.NullString{String: run.LatestValid.Time.Format(dayLayout), Valid: true}
	}
	_, err := s.db.Exec(`
		UPDATE fetch_runs SET
			finished_at = ?,
			http_status = ?,
			response_size_bytes = ?,
			records_parsed = ?,
			records_missing = ?,
			latest_valid = ?,
			parse_errors = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseSizeBytes, run.RecordsParsed,
		run.RecordsMissing, latest, run.ParseErrors, run.Success, run.ErrorMessage, run.ID)
	if err != nil {
		return fmt.Errorf("update fetch run %d: %w", run.ID, err)
	}
	return nil
}

// RecentFetches returns the latest runs, newest first.
func (s *Store) RecentFetches(limit int, failedOnly bool) ([]FetchRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, source, endpoint, location, station_id,
			   range_start, range_end, http_status, response_size_bytes,
			   records_parsed, records_missing, latest_valid, parse_errors,
			   success, error_message
		FROM fetch_runs
		WHERE (? = FALSE OR success = FALSE)
		ORDER BY id DESC
		LIMIT ?
	`, failedOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []FetchRun
	for rows.Next() {
		var (
			r                    FetchRun
			station, latest      sql.NullString
			rangeStart, rangeEnd string
		)
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Endpoint,
			&r.Location, &station, &rangeStart, &rangeEnd, &r.HTTPStatus, &r.ResponseSizeBytes,
			&r.RecordsParsed, &r.RecordsMissing, &latest, &r.ParseErrors,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.StationID = station.String
		if r.Start, err = time.Parse(dayLayout, rangeStart); err != nil {
			return nil, fmt.Errorf("run %d range_start: %w", r.ID, err)
		}
		if r.End, err = time.Parse(dayLayout, rangeEnd); err != nil {
			return nil, fmt.Errorf("run %d range_end: %w", r.ID, err)
		}
		if latest.Valid {
			t, err := time.Parse(dayLayout, latest.String)
			if err != nil {
				return nil, fmt.Errorf("run %d latest_valid: %w", r.ID, err)
			}
			r.LatestValid = sql.NullTime{Time: t, Valid: true}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SourceHealth summarises recent fetches from one source endpoint.
type SourceHealth struct {
	Source         string `json:"source"`
	Endpoint       string `json:"endpoint"`
	Runs           int    `json:"runs"`
	Failures       int    `json:"failures"`
	RecordsParsed  int64  `json:"records_parsed"`
	RecordsMissing int64  `json:"records_missing"`
	ParseErrors    int64  `json:"parse_errors"`
	LatestValid    string `json:"latest_valid,omitempty"` // newest day any radiation fetch carried
}

// SourceHealth returns per-endpoint summaries of runs started within window.
func (s *Store) SourceHealth(window time.Duration) ([]SourceHealth, error) {
	since := time.Now().UTC().Add(-window)
	rows, err := s.db.Query(`
		SELECT
			source,
			endpoint,
			COUNT(*),
			SUM(CASE WHEN success THEN 0 ELSE 1 END),
			COALESCE(SUM(records_parsed), 0),
			COALESCE(SUM(records_missing), 0),
			COALESCE(SUM(parse_errors), 0),
			COALESCE(MAX(latest_valid), '')
		FROM fetch_runs
		WHERE started_at >= ?
		GROUP BY source, endpoint
		ORDER BY source, endpoint
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceHealth
	for rows.Next() {
		var h SourceHealth
		if err := rows.Scan(&h.Source, &h.Endpoint, &h.Runs, &h.Failures,
			&h.RecordsParsed, &h.RecordsMissing, &h.ParseErrors, &h.LatestValid); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
