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
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/lox/aqiforecast/internal/advisory"
	"github.com/lox/aqiforecast/internal/api"
	"github.com/lox/aqiforecast/internal/export"
	"github.com/lox/aqiforecast/internal/forecast"
	"github.com/lox/aqiforecast/internal/ingest"
	"github.com/lox/aqiforecast/internal/store"
)

type Globals struct {
	DB        string  `help:"Path to SQLite database." default:"data/aqiforecast.db" env:"AQI_DB" type:"path"`
	ModelsDir string  `help:"Directory holding per-horizon model artifacts." default:"models" env:"AQI_MODELS_DIR" type:"path"`
	ExportDir string  `help:"Directory for training dataset exports." default:"data/processed" env:"AQI_EXPORT_DIR" type:"path"`
	Latitude  float64 `help:"City latitude." default:"42.8746" env:"AQI_LATITUDE"`
	Longitude float64 `help:"City longitude." default:"74.5698" env:"AQI_LONGITUDE"`
	Timezone  string  `help:"City time zone." default:"Asia/Bishkek" env:"AQI_TIMEZONE"`
}

type CLI struct {
	Globals

	Fetch  FetchCmd  `cmd:"" help:"Fetch recent hourly air quality and store it."`
	Import ImportCmd `cmd:"" help:"Import an hourly CSV export."`
	Replay ReplayCmd `cmd:"" help:"Re-parse stored raw responses into observations."`
	Train  TrainCmd  `cmd:"" help:"Train forecast models."`
	Serve  ServeCmd  `cmd:"" help:"Run the dashboard, ingestion and scheduled retraining."`
}

type FetchCmd struct {
	PastDays     int `help:"Days of history to request (max 92)." default:"7" env:"AQI_PAST_DAYS"`
	ForecastDays int `help:"Days of provider forecast to request." default:"1" env:"AQI_FORECAST_DAYS"`
}

func (c *FetchCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scheduler := ingest.NewScheduler(st, ingest.NewOpenMeteo(g.Latitude, g.Longitude), nil)
	scheduler.SetWindow(c.PastDays, c.ForecastDays)
	stored, err := scheduler.IngestOnce(ctx)
	if err != nil {
		return err
	}
	log.Printf("fetched %d observations", stored)
	return nil
}

type ImportCmd struct {
	Path string `arg:"" help:"CSV file with a datetime column and pollutant columns." type:"existingfile"`
}

func (c *ImportCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeDB()

	f, err := os.Open(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	stored, rejected, err := ingest.ImportCSV(st, f, c.Path)
	if err != nil {
		return err
	}
	log.Printf("imported %d observations (%d rejected)", stored, rejected)
	return nil
}

type ReplayCmd struct {
	Since time.Duration `help:"Replay responses fetched within this window." default:"72h"`
}

func (c *ReplayCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeDB()

	stored, rejected, err := ingest.ReplayPayloads(st, time.Now().Add(-c.Since))
	if err != nil {
		return err
	}
	log.Printf("replayed %d observations (%d rejected)", stored, rejected)
	return nil
}

type TrainCmd struct {
	Horizon int  `help:"Train a single horizon (1-24). Zero trains all." default:"0"`
	Export  bool `help:"Export each horizon's training frame as Parquet." default:"true" negatable:""`
}

func (c *TrainCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	obs, err := st.GetAllObservations()
	if err != nil {
		return fmt.Errorf("load observations: %w", err)
	}
	if len(obs) == 0 {
		return errors.New("no observations stored; run fetch or import first")
	}

	trainer := newTrainer(g, st, c.Export)
	horizons := forecast.Horizons()
	if c.Horizon != 0 {
		horizons = []int{c.Horizon}
	}

	results, trainErr := trainer.TrainAll(ctx, obs, horizons)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HORIZON\tTRAIN\tVAL\tMAE\tRMSE\tDROPPED")
	for _, r := range results {
		fmt.Fprintf(tw, "%dh\t%d\t%d\t%.2f\t%.2f\t%v\n", r.Horizon, r.Metrics.TrainSamples, r.Metrics.ValSamples, r.Metrics.MAE, r.Metrics.RMSE, r.Dropped)
	}
	tw.Flush()

	if trainErr != nil {
		return fmt.Errorf("%d of %d horizons trained: %w", len(results), len(horizons), trainErr)
	}
	return nil
}

type ServeCmd struct {
	Port            string        `help:"HTTP server port." default:"8080" env:"PORT"`
	NoPoll          bool          `help:"Disable ingestion and scheduled retraining (server only, for local dev)."`
	Interval        time.Duration `help:"Ingestion interval." default:"1h" env:"AQI_POLL_INTERVAL"`
	PastDays        int           `help:"Days of history requested on each poll." default:"2" env:"AQI_PAST_DAYS"`
	RetrainSchedule string        `help:"Cron schedule for full retraining." default:"15 3 * * *" env:"AQI_RETRAIN_SCHEDULE"`
	OpenAIKey       string        `help:"OpenAI API key for generated health advice." env:"OPENAI_API_KEY"`
}

func (c *ServeCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := api.NewServer(st, forecast.NewRegistry(g.ModelsDir), c.Port)
	if c.OpenAIKey != "" {
		server.SetAdvisor(advisory.New(c.OpenAIKey))
		log.Println("generated health advice enabled")
	}

	if !c.NoPoll {
		scheduler := ingest.NewScheduler(st, ingest.NewOpenMeteo(g.Latitude, g.Longitude), newTrainer(g, st, true))
		scheduler.SetInterval(c.Interval)
		scheduler.SetWindow(c.PastDays, 1)
		scheduler.SetRetrainSchedule(c.RetrainSchedule)
		go func() {
			if err := scheduler.Run(ctx); err != nil {
				log.Printf("scheduler: %v", err)
				cancel()
			}
		}()
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	log.Printf("starting server on :%s", c.Port)
	return server.Run(ctx)
}

func newTrainer(g *Globals, st *store.Store, exportFrames bool) *forecast.Trainer {
	trainer := forecast.NewTrainer(g.ModelsDir)
	trainer.SetRunRecorder(st)
	if exportFrames {
		trainer.SetExporter(export.NewWriter(g.ExportDir))
	}
	return trainer
}

func openStore(g *Globals) (*store.Store, func(), error) {
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		log.Printf("Warning: could not load %s timezone, using UTC: %v", g.Timezone, err)
		loc = time.UTC
	}

	if err := os.MkdirAll(filepath.Dir(g.DB), 0755); err != nil {
		return nil, nil, fmt.Errorf("create database dir: %w", err)
	}
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, loc)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: load .env: %v", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("aqiforecast"),
		kong.Description("City air quality index forecasting."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
