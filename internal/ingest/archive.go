package ingest

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/solaretp/internal/metrics"
	"github.com/lox/solaretp/internal/models"
	"github.com/lox/solaretp/internal/store"
)

const archiveEndpoint = "ftp/retr"

// ArchiveSource reads NASA POWER daily CSV exports mirrored on an FTP
// server. PathTemplate may contain {lat} and {lon}, formatted to 3 decimals.
type ArchiveSource struct {
	Addr         string
	User         string
	Password     string
	PathTemplate string
	Timeout      time.Duration

	recorder RunRecorder
	open     func(ctx context.Context, path string) (io.ReadCloser, error)
}

// SetRecorder enables audit rows for every fetch.
func (a *ArchiveSource) SetRecorder(r RunRecorder) {
	a.recorder = r
}

// Path returns the archive file for a location.
func (a *ArchiveSource) Path(lat, lon float64) string {
	r := strings.NewReplacer(
		"{lat}", strconv.FormatFloat(lat, 'f', 3, 64),
		"{lon}", strconv.FormatFloat(lon, 'f', 3, 64),
	)
	return r.Replace(a.PathTemplate)
}

// DailyRadiation implements radiation.Source. The archive file holds the
// full record for a location; only days in [start, end] are returned.
func (a *ArchiveSource) DailyRadiation(ctx context.Context, lat, lon float64, start, end time.Time) (models.RadiationSeries, error) {
	path := a.Path(lat, lon)
	req := store.FetchRequest{
		Endpoint: archiveEndpoint,
		Location: fmt.Sprintf("%.4f,%.4f", lat, lon),
		Start:    models.DateOnly(start),
		End:      models.DateOnly(end),
	}
	result := &FetchResult{}

	series, err := a.fetch(ctx, path, result)
	if err != nil {
		a.audit(req, result, err)
		metrics.SourceAPICallsTotal.WithLabelValues("archive", "retr", "error").Inc()
		return nil, err
	}
	metrics.SourceAPICallsTotal.WithLabelValues("archive", "retr", "ok").Inc()

	out := clipRange(series, req.Start, req.End)
	result.describeSeries(out)
	a.audit(req, result, nil)

	metrics.RecordsFetched.WithLabelValues("archive").Add(float64(len(out)))
	log.Printf("archive: %s: %d of %d days in range, %d missing", path, len(out), len(series), result.RecordsMissing)
	return out, nil
}

// clipRange returns the days of a date-sorted series within [start, end].
func clipRange(series models.RadiationSeries, start, end time.Time) models.RadiationSeries {
	lo := sort.Search(len(series), func(i int) bool { return !series[i].Date.Before(start) })
	hi := sort.Search(len(series), func(i int) bool { return series[i].Date.After(end) })
	if lo >= hi {
		return nil
	}
	return series[lo:hi:hi]
}

func (a *ArchiveSource) fetch(ctx context.Context, path string, result *FetchResult) (models.RadiationSeries, error) {
	open := a.open
	if open == nil {
		open = a.retr
	}

	started := time.Now()
	rc, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	cr := &countingReader{r: rc}
	series, err := ParsePowerCSV(cr, result)
	metrics.SourceAPILatency.WithLabelValues("archive", "retr").Observe(time.Since(started).Seconds())
	result.ResponseSize = cr.n
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return series, nil
}

// retr opens path on the FTP server. Closing the reader ends the session.
func (a *ArchiveSource) retr(ctx context.Context, path string) (io.ReadCloser, error) {
	timeout := a.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	conn, err := ftp.Dial(a.Addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}

	user, pass := a.User, a.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp retr %s: %w", path, err)
	}
	return &ftpFile{Response: resp, conn: conn}, nil
}

type ftpFile struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (f *ftpFile) Close() error {
	err := f.Response.Close()
	if qerr := f.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}

func (a *ArchiveSource) audit(req store.FetchRequest, result *FetchResult, err error) {
	f := fetcher{source: "archive", recorder: a.recorder}
	f.audit(req, result, err)
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// ParsePowerCSV reads a POWER daily CSV export: an optional
// -BEGIN HEADER-/-END HEADER- block followed by a column row containing
// YEAR and either MO,DY or DOY, plus ALLSKY_SFC_SW_DWN. Fill values become
// invalid entries.
func ParsePowerCSV(r io.Reader, result *FetchResult) (models.RadiationSeries, error) {
	br := bufio.NewReader(r)

	// Skip the metadata block if present.
	peek, _ := br.Peek(len("-BEGIN HEADER-"))
	if string(peek) == "-BEGIN HEADER-" {
		for {
			line, err := br.ReadString('\n')
			if strings.TrimSpace(line) == "-END HEADER-" {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("unterminated header block")
			}
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read column header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	yearCol, okYear := cols["YEAR"]
	valueCol, okValue := cols[powerParameter]
	if !okYear || !okValue {
		return nil, fmt.Errorf("missing YEAR or %s column", powerParameter)
	}
	moCol, okMo := cols["MO"]
	dyCol, okDy := cols["DY"]
	doyCol, okDoy := cols["DOY"]
	if !(okMo && okDy) && !okDoy {
		return nil, fmt.Errorf("missing MO,DY or DOY columns")
	}

	var parseErrors []string
	var series models.RadiationSeries
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}

		date, v, err := parseArchiveRow(rec, yearCol, moCol, dyCol, doyCol, valueCol, okMo && okDy)
		if err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("row %d: %v", line, err))
			continue
		}
		day := models.RadiationDay{Date: date}
		if v != PowerFillValue {
			day.Value = sql.NullFloat64{Float64: v, Valid: true}
			if flags := ValidateRadiation(day); len(flags) > 0 {
				parseErrors = append(parseErrors, fmt.Sprintf("row %d: value %v %v", line, v, flags))
				day.Value = sql.NullFloat64{}
			}
		}
		series = append(series, day)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })

	if result != nil {
		result.describeSeries(series)
		if len(parseErrors) > 0 {
			result.ParseErrors = len(parseErrors)
			result.ParseError = fmt.Sprintf("%d parse errors: %v", len(parseErrors), parseErrors[0])
		}
	}
	return series, nil
}

func parseArchiveRow(rec []string, yearCol, moCol, dyCol, doyCol, valueCol int, monthDay bool) (time.Time, float64, error) {
	field := func(i int) (int, error) {
		if i >= len(rec) {
			return 0, fmt.Errorf("short row")
		}
		return strconv.Atoi(strings.TrimSpace(rec[i]))
	}

	year, err := field(yearCol)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("year: %w", err)
	}

	var date time.Time
	if monthDay {
		mo, err := field(moCol)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("month: %w", err)
		}
		dy, err := field(dyCol)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("day: %w", err)
		}
		date = time.Date(year, time.Month(mo), dy, 0, 0, 0, 0, time.UTC)
	} else {
		doy, err := field(doyCol)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("doy: %w", err)
		}
		date = time.Date(year, 1, doy, 0, 0, 0, 0, time.UTC)
	}

	if valueCol >= len(rec) {
		return time.Time{}, 0, fmt.Errorf("short row")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[valueCol]), 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("value: %w", err)
	}
	return date, v, nil
}
