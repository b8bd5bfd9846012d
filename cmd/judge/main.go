package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/lyrio-dev/judge/internal/compile"
	"github.com/lyrio-dev/judge/internal/config"
	"github.com/lyrio-dev/judge/internal/dispatch"
	"github.com/lyrio-dev/judge/internal/judge"
	"github.com/lyrio-dev/judge/internal/lang"
	"github.com/lyrio-dev/judge/internal/report"
	"github.com/lyrio-dev/judge/internal/runner"
	"github.com/lyrio-dev/judge/internal/sandbox"
	"github.com/lyrio-dev/judge/internal/slots"
	"github.com/lyrio-dev/judge/internal/sysinfo"
	"github.com/lyrio-dev/judge/internal/testdata"
	"github.com/lyrio-dev/judge/internal/worker"
	"github.com/urfave/cli/v3"
)

// The supervisor restarts the child only on this code.
const exitCodeRestart = 100

func main() {
	setupLogging()

	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "judge.toml",
		Usage:   "path of the worker configuration file",
	}

	app := &cli.Command{
		Name:  "judge",
		Usage: "online judge worker",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "connect to the dispatcher and judge submissions",
				Flags:  []cli.Flag{configFlag},
				Action: runAction,
			},
			{
				Name:   "supervise",
				Usage:  "run the worker, restarting it when the dispatcher connection is lost",
				Flags:  []cli.Flag{configFlag},
				Action: superviseAction,
			},
			{
				Name:      "local",
				Usage:     "judge a scenario file offline",
				ArgsUsage: "scenario.toml",
				Flags:     []cli.Flag{configFlag},
				Action:    localAction,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func setupLogging() {
	_ = godotenv.Load()
	level := slog.LevelInfo
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		_ = level.UnmarshalText([]byte(v))
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level})))
}

// services are the process-singleton components, constructed explicitly and
// passed down instead of living as ambient globals.
type services struct {
	cfg    *config.Config
	langs  *lang.Registry
	sb     *sandbox.Invoker
	sched  *slots.Scheduler
	store  *testdata.Store
	cache  *compile.Cache
	env    *runner.Env
	judger *judge.Judge
}

func buildServices(
	cfg *config.Config,
	resolveURLs func(ctx context.Context, ids []string) ([]string, error),
) (*services, error) {
	langs, err := lang.Load(cfg.Languages)
	if err != nil {
		return nil, err
	}

	store, err := testdata.New(
		cfg.DataStore,
		cfg.MaxConcurrentDownloads,
		cfg.DownloadRetry,
		cfg.DownloadTimeoutDuration(),
		testdata.NewFetcher(),
		resolveURLs,
	)
	if err != nil {
		return nil, err
	}

	sb := sandbox.New(cfg.Sandbox, cfg.CPUAffinity)
	sched := slots.New(cfg.TaskWorkingDirectories, cfg.MaxConcurrentTasks)

	compiler := compile.NewCompiler(sb, sched, langs, store)
	cache, err := compile.NewCache(cfg.BinaryCacheStore, cfg.BinaryCacheMaxSize, compiler)
	if err != nil {
		return nil, err
	}

	env := &runner.Env{
		Sandbox: sb,
		Slots:   sched,
		Langs:   langs,
		Data:    store,
	}
	return &services{
		cfg:    cfg,
		langs:  langs,
		sb:     sb,
		sched:  sched,
		store:  store,
		cache:  cache,
		env:    env,
		judger: judge.New(env, cache),
	}, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	client, err := dispatch.NewNATSClient(cfg.ServerURL, cfg.Key, cfg.RPCTimeoutDuration())
	if err != nil {
		return err
	}
	defer client.Close()

	authorized, err := client.Authorize(ctx)
	if err != nil {
		return err
	}
	slog.Info("authorized", "name", authorized.Name)

	svc, err := buildServices(cfg, client.RequestFiles)
	if err != nil {
		return err
	}
	svc.env.Limits = authorized.Limits

	if err := client.SystemInfo(ctx, sysinfo.Gather()); err != nil {
		slog.Warn("failed to report system info", "err", err)
	}

	var mirror worker.Mirror
	if cfg.SQSMirror != nil {
		m, err := report.NewSQSMirror(ctx, cfg.SQSMirror.QueueURL, cfg.SQSMirror.Region)
		if err != nil {
			return err
		}
		mirror = m
	}

	w := worker.New(client, svc.judger, cfg.TaskConsumingThreads, mirror)
	err = w.Run(ctx)
	if errors.Is(err, worker.ErrDispatcherLost) {
		slog.Error("dispatcher connection lost, requesting restart")
		os.Exit(exitCodeRestart)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func superviseAction(ctx context.Context, cmd *cli.Command) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}

	for {
		child := exec.CommandContext(ctx, self, "run", "--config", cmd.String("config"))
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr

		err := child.Run()
		if err == nil {
			return nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == exitCodeRestart {
			slog.Info("worker requested restart")
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("worker exited: %w", err)
	}
}
