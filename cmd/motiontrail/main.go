package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/motiontrail/internal/config"
	"github.com/banshee-data/motiontrail/internal/db"
	"github.com/banshee-data/motiontrail/internal/motion/background"
	"github.com/banshee-data/motiontrail/internal/motion/monitor"
	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
	"github.com/banshee-data/motiontrail/internal/motion/runner"
	"github.com/banshee-data/motiontrail/internal/motion/sink"
	"github.com/banshee-data/motiontrail/internal/motion/source"
	"github.com/banshee-data/motiontrail/internal/motion/visualiser"
	"github.com/banshee-data/motiontrail/internal/version"
)

var (
	configFile = flag.String("config", "", "Path to a JSON tuning file (default: built-in defaults)")
	sourceArg  = flag.String("source", "synthetic", `Frame source: "synthetic" or a directory of images`)
	loop       = flag.Bool("loop", false, "Loop the image directory instead of stopping at its end")
	width      = flag.Int("width", 320, "Synthetic source width")
	height     = flag.Int("height", 240, "Synthetic source height")
	seed       = flag.Int64("seed", 1, "Synthetic source seed")
	outDir     = flag.String("out", "", "Write output PNGs to this directory")
	outEvery   = flag.Int("out-every", 1, "Write every Nth output when -out is set")
	outMask    = flag.Bool("out-mask", false, "Also write the mask PNG when -out is set")
	dbFile     = flag.String("db", "", "Path to the SQLite database file (disabled when empty)")
	listen     = flag.String("listen", "", "HTTP monitor listen address, e.g. :8090 (disabled when empty)")
	grpcListen = flag.String("grpc-listen", "", "Visualiser gRPC listen address, e.g. localhost:50061 (disabled when empty)")
	plotDir    = flag.String("plot-dir", "", "Write tick statistic plots to this directory on exit")
	maxTicks   = flag.Uint64("ticks", 0, "Stop after this many ticks (0 = until the source ends)")
	restore    = flag.Bool("restore", false, "Restore the latest background snapshot for this source from -db")
	debugLogs  = flag.Bool("debug", false, "Enable the pipeline diag stream")
	traceLogs  = flag.Bool("trace", false, "Enable the per-tick pipeline trace stream")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}
	log.Printf("Starting %s", version.String())
	if err := run(); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

func run() error {
	var diag, trace io.Writer
	if *debugLogs {
		diag = os.Stderr
	}
	if *traceLogs {
		trace = os.Stderr
	}
	pipeline.SetLogWriters(os.Stderr, diag, trace)

	cfg := config.DefaultTuningConfig()
	if *configFile != "" {
		loaded, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			return err
		}
		cfg.Merge(loaded)
		log.Printf("Loaded tuning from %s", *configFile)
	}

	src, err := openSource()
	if err != nil {
		return err
	}

	opts := runner.Options{
		Interval:         cfg.GetFrameInterval(),
		MaxTicks:         *maxTicks,
		StatsEvery:       cfg.GetStatsEvery(),
		SnapshotInterval: cfg.GetSnapshotInterval(),
	}

	var database *db.DB
	if *dbFile != "" {
		database, err = db.Open(*dbFile)
		if err != nil {
			return err
		}
		defer database.Close()

		settingsJSON, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		session, err := database.CreateSession("", src.Name(), string(settingsJSON))
		if err != nil {
			return err
		}
		log.Printf("Session %s (source %s)", session.SessionID, src.Name())
		opts.SessionID = session.SessionID
		opts.StatsStore = database
		opts.SnapshotStore = database

		if *restore {
			snap, err := latestSnapshot(database, src.Name())
			if err != nil {
				log.Printf("Background restore skipped: %v", err)
			}
			opts.Restore = snap
		}
	} else if *restore {
		log.Printf("-restore ignored: no -db given")
	}

	p := pipeline.New(pipeline.Options{MaxPixels: cfg.GetMaxPixels()})
	r := runner.New(p, src, cfg.ToSettings(), opts)

	if *outDir != "" {
		pngSink, err := sink.NewPNGDir(*outDir, *outEvery, *outMask)
		if err != nil {
			return err
		}
		r.AddSink(pngSink)
	}

	var plotter *monitor.StatsPlotter
	if *plotDir != "" {
		plotter = monitor.NewStatsPlotter(src.Name())
		if err := plotter.Start(*plotDir); err != nil {
			return err
		}
		r.AddObserver(plotter)
	}

	var publisher *visualiser.Publisher
	if *grpcListen != "" {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = *grpcListen
		publisher = visualiser.NewPublisher(vcfg)
		if err := publisher.Start(); err != nil {
			return err
		}
		defer publisher.Stop()
		r.AddObserver(publisher)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if *listen != "" {
		wsCfg := monitor.WebServerConfig{Address: *listen, Runner: r, DB: database}
		if publisher != nil {
			wsCfg.Publisher = publisher
		}
		ws := monitor.NewWebServer(wsCfg)
		r.AddObserver(ws.History())

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(ctx); err != nil {
				log.Printf("HTTP server error: %v", err)
				cancel()
			}
			log.Printf("HTTP server routine stopped")
		}()
	}

	runErr := r.Run(ctx)
	cancel()
	wg.Wait()

	st := r.Status()
	log.Printf("Run finished: ticks=%d skipped=%d resets=%d implicit_resets=%d snapshots=%d",
		st.Ticks, st.SkippedFrames, st.Pipeline.Resets, st.Pipeline.ImplicitResets, st.Snapshots)

	if plotter != nil {
		plotter.Stop()
		n, err := plotter.GeneratePlots()
		if err != nil {
			log.Printf("Plot generation failed: %v", err)
		} else {
			log.Printf("Wrote %d plots to %s", n, *plotDir)
		}
	}
	return runErr
}

func openSource() (runner.Source, error) {
	if *sourceArg == "synthetic" {
		return source.NewSynthetic(*width, *height, *seed), nil
	}
	return source.NewImageSequence(*sourceArg, *loop)
}

func latestSnapshot(database *db.DB, sourceName string) (*background.Snapshot, error) {
	row, err := database.GetLatestBgSnapshot(sourceName)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errors.New("no snapshot stored for " + sourceName)
	}
	return background.SnapshotFromRow(row)
}
