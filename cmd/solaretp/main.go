package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/lox/solaretp/internal/api"
	"github.com/lox/solaretp/internal/config"
	"github.com/lox/solaretp/internal/estimate"
	"github.com/lox/solaretp/internal/httputil"
	"github.com/lox/solaretp/internal/ingest"
	"github.com/lox/solaretp/internal/models"
	"github.com/lox/solaretp/internal/radiation"
	"github.com/lox/solaretp/internal/store"
)

type Globals struct {
	Config          string `help:"Path to a YAML config file." type:"path" env:"SOLARETP_CONFIG"`
	UserAgent       string `help:"User-Agent sent to upstream APIs (NWS requires contact details)." env:"SOLARETP_USER_AGENT"`
	AuditDB         string `help:"SQLite database recording upstream fetches." type:"path" env:"SOLARETP_AUDIT_DB"`
	RadiationSource string `help:"Radiation source: power or archive." env:"SOLARETP_RADIATION_SOURCE"`
	PowerURL        string `help:"NASA POWER base URL." env:"SOLARETP_POWER_URL"`
	ArchiveAddr     string `help:"FTP host:port of the POWER CSV archive." env:"SOLARETP_ARCHIVE_ADDR"`
	ArchivePath     string `help:"Archive file path template with {lat} and {lon}." env:"SOLARETP_ARCHIVE_PATH"`
	NWSURL          string `name:"nws-url" help:"NWS API base URL." env:"SOLARETP_NWS_URL"`
	NominatimURL    string `help:"Nominatim geocoder base URL." env:"SOLARETP_NOMINATIM_URL"`
}

type CLI struct {
	Globals

	Estimate  EstimateCmd  `cmd:"" help:"Estimate solar radiation and evapotranspiration for a day."`
	Radiation RadiationCmd `cmd:"" help:"Estimate solar radiation only."`
	Serve     ServeCmd     `cmd:"" help:"Run the HTTP API."`
	Runs      RunsCmd      `cmd:"" help:"List recent upstream fetches from the audit database."`
}

type EstimateCmd struct {
	Lat     float64 `help:"Latitude in degrees." required:""`
	Lon     float64 `help:"Longitude in degrees." required:""`
	Zipcode string  `help:"Postal code used to find the nearest weather station." required:""`
	Country string  `help:"ISO country code." default:"US"`
	Date    string  `help:"Target date (YYYYMMDD)." required:""`
}

func (c *EstimateCmd) Run(g *Globals) error {
	date, err := time.Parse(models.DateLayout, c.Date)
	if err != nil {
		return fmt.Errorf("invalid date %q, want YYYYMMDD", c.Date)
	}

	a, err := g.setup()
	if err != nil {
		return err
	}
	defer a.Close()

	est, err := a.service.RadiationAndETP(context.Background(), estimate.Request{
		Latitude:  c.Lat,
		Longitude: c.Lon,
		Zipcode:   c.Zipcode,
		Country:   c.Country,
		Date:      date,
	})
	if err != nil {
		return err
	}
	if est == nil {
		fmt.Println("Unable to calculate solar radiation and evapotranspiration for the given date.")
		return nil
	}
	fmt.Printf("Solar Radiation: %.2f MJ/m²/day\n", est.Radiation)
	fmt.Printf("Evapotranspiration: %.2f mm/day\n", est.ETP)
	return nil
}

type RadiationCmd struct {
	Lat  float64 `help:"Latitude in degrees." required:""`
	Lon  float64 `help:"Longitude in degrees." required:""`
	Date string  `help:"Target date (YYYYMMDD)." required:""`
}

func (c *RadiationCmd) Run(g *Globals) error {
	date, err := time.Parse(models.DateLayout, c.Date)
	if err != nil {
		return fmt.Errorf("invalid date %q, want YYYYMMDD", c.Date)
	}

	a, err := g.setup()
	if err != nil {
		return err
	}
	defer a.Close()

	rad, branch, err := a.estimator.Estimate(context.Background(), c.Lat, c.Lon, date)
	if err != nil {
		return err
	}
	if !rad.Valid {
		fmt.Printf("Unable to determine solar radiation for the given date (%s).\n", branch)
		return nil
	}
	fmt.Printf("Solar Radiation: %.2f MJ/m²/day (%s)\n", rad.Float64, branch)
	return nil
}

type ServeCmd struct {
	Listen string `help:"Listen address." env:"SOLARETP_LISTEN"`
}

func (c *ServeCmd) Run(g *Globals) error {
	a, err := g.setup()
	if err != nil {
		return err
	}
	defer a.Close()

	listen := a.cfg.Listen
	if c.Listen != "" {
		listen = c.Listen
	}

	server := api.NewServer(a.service, a.estimator, listen)
	if a.store != nil {
		server.SetAuditLog(a.store)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	log.Println("shutdown complete")
	return nil
}

type RunsCmd struct {
	Limit      int  `help:"Number of runs to show." default:"20"`
	FailedOnly bool `help:"Only show failed runs."`
}

func (c *RunsCmd) Run(g *Globals) error {
	a, err := g.setup()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.store == nil {
		return errors.New("no audit database configured (--audit-db)")
	}
	runs, err := a.store.RecentFetches(c.Limit, c.FailedOnly)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSOURCE\tLOCATION\tSTATION\tRANGE\tSTATUS\tRECORDS\tMISSING\tLATEST\tOK\tERROR")
	for _, r := range runs {
		station := r.StationID
		if station == "" {
			station = "-"
		}
		latest := "-"
		if r.LatestValid.Valid {
			latest = r.LatestValid.Time.Format(time.DateOnly)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s..%s\t%s\t%s\t%s\t%s\t%v\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Source,
			r.Location,
			station,
			r.Start.Format(time.DateOnly),
			r.End.Format(time.DateOnly),
			nullInt(r.HTTPStatus),
			nullInt(r.RecordsParsed),
			nullInt(r.RecordsMissing),
			latest,
			r.Success,
			r.ErrorMessage.String,
		)
	}
	return w.Flush()
}

func nullInt(v sql.NullInt64) string {
	if !v.Valid {
		return "-"
	}
	return fmt.Sprint(v.Int64)
}

type app struct {
	cfg       config.Config
	service   *estimate.Service
	estimator *radiation.Estimator
	store     *store.Store
	db        *sql.DB
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

func (g *Globals) setup() (*app, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	cfg.Merge(config.Overrides{
		UserAgent:       g.UserAgent,
		AuditDB:         g.AuditDB,
		RadiationSource: g.RadiationSource,
		PowerURL:        g.PowerURL,
		ArchiveAddr:     g.ArchiveAddr,
		ArchivePath:     g.ArchivePath,
		NWSURL:          g.NWSURL,
		NominatimURL:    g.NominatimURL,
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	a := &app{cfg: cfg}
	if cfg.AuditDB != "" {
		a.store, a.db, err = store.Open(cfg.AuditDB)
		if err != nil {
			return nil, fmt.Errorf("audit db: %w", err)
		}
		log.Printf("audit: recording fetches to %s", cfg.AuditDB)
	}

	client := httputil.NewClient(cfg.UserAgent)

	var source radiation.Source
	switch cfg.Radiation.Source {
	case config.SourceArchive:
		arch := &ingest.ArchiveSource{
			Addr:         cfg.Radiation.Archive.Addr,
			User:         cfg.Radiation.Archive.User,
			Password:     cfg.Radiation.Archive.Password,
			PathTemplate: cfg.Radiation.Archive.PathTemplate,
			Timeout:      cfg.Radiation.Archive.Timeout,
		}
		if a.store != nil {
			arch.SetRecorder(a.store)
		}
		source = arch
	default:
		power := ingest.NewPowerClient(client, cfg.Radiation.PowerURL)
		if a.store != nil {
			power.SetRecorder(a.store)
		}
		source = power
	}

	nws := ingest.NewNWSClient(client, cfg.Weather.NWSURL, cfg.Weather.NominatimURL)
	if a.store != nil {
		nws.SetRecorder(a.store)
	}

	a.estimator = radiation.NewEstimator(source)
	a.service = estimate.NewService(a.estimator, nws)
	return a, nil
}

func loadEnvFile() {
	path := os.Getenv("SOLARETP_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("env: load %s: %v", path, err)
	}
}

func main() {
	loadEnvFile()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("solaretp"),
		kong.Description("Daily solar radiation and reference evapotranspiration estimates."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
