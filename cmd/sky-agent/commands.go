package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sky-agent/internal/config"
	"sky-agent/internal/follow"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:          "sky-agent",
		Short:        "Bluesky growth agent: follow campaign, unfollow sweep and daily posts",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				os.Setenv(config.ConfigFileEnv, configPath)
			}
		},
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the follow worker and the post scheduler until interrupted",
		RunE:  runAgent,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print follow ledger statistics",
		RunE:  runStatus,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Unfollow every account past the unfollow period, then exit",
		RunE:  runSweep,
	}

	postCmd = &cobra.Command{
		Use:   "post",
		Short: "Generate and publish one post now, then exit",
		RunE:  runPost,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides "+config.ConfigFileEnv+")")
	rootCmd.AddCommand(runCmd, statusCmd, sweepCmd, postCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()
	a.logger.Info("sky-agent starting", "storage", a.backend, "handle", a.cfg.Handle)

	driver, err := a.newDriver()
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.MetricsAddr != "" {
		srv := metricsServer(a.cfg.MetricsAddr)
		g.Go(func() error {
			a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if gen := a.newBrain(gctx); gen != nil {
		sched, err := a.newScheduler(gctx, gen)
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	} else {
		a.logger.Warn("no OPENAI_API_KEY or GEMINI_API_KEY set, daily posting disabled")
	}

	sup := &follow.Supervisor{
		Name:        "follow",
		MaxRestarts: a.cfg.MaxWorkerRestarts,
		Backoff:     a.cfg.WorkerRestartBackoff,
		Clock:       a.clock,
		Logger:      a.logger,
	}
	g.Go(func() error { return sup.Run(gctx, driver.Run) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		a.logger.Info("shutting down")
		return nil
	}
	return err
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.store.Stats(ctx, a.cfg.UnfollowAfter(), a.clock.Now())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "storage:     %s\n", a.backend)
	fmt.Fprintf(out, "followed:    %d\n", st.Total)
	fmt.Fprintf(out, "active:      %d\n", st.Active)
	fmt.Fprintf(out, "unfollowed:  %d\n", st.Unfollowed)
	fmt.Fprintf(out, "due now:     %d (after %d days)\n", st.Due, a.cfg.UnfollowAfterDays)

	if a.cfg.StateFile != "" {
		rate, err := a.newRateController()
		if err != nil {
			return err
		}
		cs := rate.State()
		fmt.Fprintf(out, "cycle:       %d/%d follows since %s\n", cs.FollowCount, a.cfg.DailyFollowLimit, cs.CycleStart.Format(time.RFC3339))
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.newSweeper().Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "due %d, unfollowed %d, failed %d\n", res.Due, res.Unfollowed, res.Failed)
	return nil
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	gen := a.newBrain(ctx)
	if gen == nil {
		return errors.New("missing environment variables: OPENAI_API_KEY or GEMINI_API_KEY")
	}
	sched, err := a.newScheduler(ctx, gen)
	if err != nil {
		return err
	}
	post, err := sched.PublishOnce(ctx)
	if err != nil {
		return err
	}
	if post == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "post skipped")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", post.URI)
	return nil
}
