package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"looneyrace.ai/internal/persistence/indexdb"
	persistlog "looneyrace.ai/internal/persistence/log"
	"looneyrace.ai/internal/protocol"
	"looneyrace.ai/internal/render"
	"looneyrace.ai/internal/sim/race"
	"looneyrace.ai/internal/sim/tuning"
	"looneyrace.ai/internal/transport/observer"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to race.yaml (default: built-in tuning)")
		seed       = flag.Int64("seed", 0, "rng seed (0 = time-based)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		addr       = flag.String("addr", "", "http listen address for viewers (empty to disable)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite match index")
		quiet      = flag.Bool("quiet", false, "suppress board rendering")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[race] ", log.LstdFlags|log.Lmicroseconds)

	tune := tuning.Default()
	if *configPath != "" {
		var err error
		if tune, err = tuning.Load(*configPath); err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	matchID := uuid.NewString()

	sink := make(chan protocol.Snapshot, tune.SnapshotBuffer)
	ra, err := race.New(race.Config{
		MatchID:      matchID,
		Seed:         *seed,
		Tuning:       tune,
		SnapshotSink: sink,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("race: %v", err)
	}

	journal, err := persistlog.NewMatchJournal(filepath.Join(*dataDir, "matches"), matchID)
	if err != nil {
		logger.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	var idx *indexdb.MatchIndex
	if !*disableDB {
		idx, err = indexdb.Open(filepath.Join(*dataDir, "races.db"))
		if err != nil {
			logger.Fatalf("open match index: %v", err)
		}
		defer idx.Close()
		idx.StartMatch(indexdb.MatchRow{
			MatchID:         matchID,
			StartedAt:       time.Now(),
			GridSize:        tune.GridSize,
			CarrotsRequired: tune.CarrotsRequired,
			MaxSteps:        tune.MaxSteps,
			Seed:            *seed,
		})
	}

	var obs *observer.Server
	if *addr != "" {
		obs = observer.NewServer(matchID, ra.Params(), logger)
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/bootstrap", obs.BootstrapHandler())
		mux.HandleFunc("/v1/ws", obs.WSHandler())
		srv := &http.Server{Addr: *addr, Handler: mux}
		go func() {
			logger.Printf("viewers on ws://%s/v1/ws", *addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("http: %v", err)
			}
		}()
		defer srv.Close()
		defer obs.CloseViewers()
	}

	// Frame consumer: rendering, journaling and indexing all happen here,
	// never on the race loop.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for snap := range sink {
			if !*quiet {
				render.Frame(os.Stdout, snap)
			}
			if err := journal.WriteFrame(snap); err != nil {
				logger.Printf("journal: %v", err)
			}
			if idx != nil {
				idx.WriteFrame(snap)
			}
			if obs != nil {
				obs.Broadcast(snap)
			}
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Printf("match %s starting: %dx%d grid, %d carrots to win, seed %d",
		matchID, tune.GridSize, tune.GridSize, tune.CarrotsRequired, *seed)

	res, err := ra.Run(ctx)
	close(sink)
	<-consumerDone
	if err != nil {
		logger.Fatalf("run: %v", err)
	}

	if idx != nil {
		idx.FinishMatch(indexdb.FinishRow{
			MatchID:          matchID,
			Winner:           res.Winner,
			Reason:           res.Reason,
			Steps:            res.Steps,
			CarrotsDelivered: res.CarrotsDelivered,
			FinishedAt:       time.Now(),
		})
		idx.Flush()
	}

	logger.Printf("winner %s (%s) after %d steps, %d carrots delivered (%s)",
		res.WinnerName, res.Winner, res.Steps, res.CarrotsDelivered, res.Reason)
}
