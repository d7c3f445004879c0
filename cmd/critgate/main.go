// critgate is the suggestion triage and merit evaluation service: it sits
// between an IDE-side suggestion source and a downstream code-fixing
// consumer, admits only critical suggestions, and pays review agents a
// merit currency on an unpredictable schedule.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"critgate/internal/config"
	"critgate/internal/consultant"
	"critgate/internal/judgment"
	"critgate/internal/ledger"
	"critgate/internal/logging"
	"critgate/internal/server"
	"critgate/internal/store"
	"critgate/internal/triage"
	"critgate/internal/tunnel"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "critgate",
		Short: "Critical-only suggestion triage and agent merit evaluation",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "critgate.yaml", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the triage pipeline and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	boot := logging.For(log, logging.CategoryBoot)
	boot.Info("starting", zap.String("name", cfg.Name), zap.String("listen", cfg.Listen))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Judgment service: real client when a credential is present, otherwise
	// the offline judge so filtering degrades to keyword-only instead of
	// crashing.
	var judge judgment.Judge
	if cfg.Judgment.APIKey != "" {
		timeout, _ := cfg.JudgmentTimeout()
		judge, err = judgment.NewGeminiJudge(ctx, judgment.GeminiConfig{
			APIKey:  cfg.Judgment.APIKey,
			Model:   cfg.Judgment.Model,
			Timeout: timeout,
		}, logging.For(log, logging.CategoryJudgment))
		if err != nil {
			return err
		}
	} else {
		boot.Warn("no judgment API key configured, running keyword-only")
		judge = judgment.Offline{}
	}

	filter := triage.NewCriticalFilter(judge, cfg.Judgment.StrictMode, logging.For(log, logging.CategoryFilter))
	pipe := tunnel.New(filter, logging.For(log, logging.CategoryTunnel))

	accounts := ledger.New()
	cons := consultant.New(judge, accounts, consultant.Config{
		BaseTokenAmount:     cfg.Evaluation.BaseTokenAmount,
		ExcellentThreshold:  cfg.Evaluation.ExcellentThreshold,
		AcceptableThreshold: cfg.Evaluation.AcceptableThreshold,
		MaxMultiplier:       cfg.Evaluation.MaxMultiplier,
		FearRisePerHour:     cfg.Evaluation.FearRisePerHour,
		FearReductionFactor: cfg.Evaluation.FearReductionFactor,
	}, logging.For(log, logging.CategoryConsultant))

	sched := consultant.NewScheduler(cons, consultant.SchedulerConfig{
		MinHours: cfg.Evaluation.MinHours,
		MaxHours: cfg.Evaluation.MaxHours,
		DueHours: cfg.Evaluation.DueHours,
	}, logging.For(log, logging.CategoryScheduler))

	if cfg.Archive.Enabled {
		archive, err := store.Open(cfg.Archive.Path, logging.For(log, logging.CategoryStore))
		if err != nil {
			return err
		}
		defer archive.Close()
		pipe.RegisterForward(archive.ArchiveBin)
		accounts.OnAward(archive.RecordAward)
		boot.Info("archive enabled", zap.String("path", cfg.Archive.Path))
	}

	srv := server.New(pipe, cons, sched, cfg.Judgment.StrictMode, logging.For(log, logging.CategoryServer))
	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		boot.Info("shutting down")
		sched.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
