package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ChurnInsights/src/charts"
	"ChurnInsights/src/config"
	"ChurnInsights/src/datasource/file"
	"ChurnInsights/src/processor"
	"ChurnInsights/src/storage"

	"github.com/robfig/cron"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cliOptions 命令行参数，显式给出的值覆盖配置文件与环境变量
type cliOptions struct {
	configDir       string
	configFile      string
	dataConfigFile  string
	dataPath        string
	outputDir       string
	dpi             int
	logFile         string
	summary         string
	continueOnError bool
	verbose         bool
	every           time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "churnplots:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "churnplots",
		Short:         "Render the customer churn charts from a CSV export",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return a.runOnce(ctx)
			})
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configDir, "config-dir", "./config", "directory holding the config files")
	pf.StringVar(&opts.configFile, "config", "config.json", "run config (.json/.yaml)")
	pf.StringVar(&opts.dataConfigFile, "data-config", "dataconfig.json", "dataset config (.json/.yaml)")
	pf.StringVar(&opts.dataPath, "data", "", "input CSV or XLSX file")
	pf.StringVar(&opts.outputDir, "out", "", "output directory for the PNG files")
	pf.IntVar(&opts.dpi, "dpi", 0, "output resolution")
	pf.StringVar(&opts.logFile, "log", "", "log file")
	pf.StringVar(&opts.summary, "summary", "", "also write the aggregates to this xlsx workbook")
	pf.BoolVar(&opts.continueOnError, "continue-on-error", false, "render the remaining charts when one fails")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newWatchCmd(opts))
	return root
}

func newWatchCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-render whenever the input file changes, and optionally on a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				every := a.cfg.Watch.Interval.Std()
				if cmd.Flags().Changed("every") {
					every = opts.every
				}
				return a.watch(ctx, every)
			})
		},
	}
	cmd.Flags().DurationVar(&opts.every, "every", 0, "also re-render on this interval (0 disables)")
	return cmd
}

// app 一次命令执行所需的配置与日志
type app struct {
	cfg    config.Config
	dcfg   *config.DataConfig
	logger *storage.Logger
}

func withApp(cmd *cobra.Command, opts *cliOptions, run func(context.Context, *app) error) error {
	cfg, dcfg, err := config.LoadConfig(opts.configDir, opts.configFile, opts.dataConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a := &app{cfg: *cfg, dcfg: dcfg}
	a.applyFlags(cmd, opts)
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	level := storage.INFO
	if opts.verbose {
		level = storage.DEBUG
	}
	a.logger, err = storage.NewLogger(a.cfg.LogName, storage.WithConsole(cmd.ErrOrStderr()), storage.WithLevel(level))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer a.logger.Close()
	a.logger.Log(storage.DEBUG, "config loaded",
		zap.String("data", a.cfg.DataPath),
		zap.String("out", a.cfg.OutputDir),
		zap.Int("dpi", a.cfg.DPI))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go a.reopenOnHangup(ctx)

	return run(ctx, a)
}

func (a *app) applyFlags(cmd *cobra.Command, opts *cliOptions) {
	flags := cmd.Flags()
	if flags.Changed("data") {
		a.cfg.DataPath = opts.dataPath
	}
	if flags.Changed("out") {
		a.cfg.OutputDir = opts.outputDir
	}
	if flags.Changed("dpi") {
		a.cfg.DPI = opts.dpi
	}
	if flags.Changed("log") {
		a.cfg.LogName = opts.logFile
	}
	if flags.Changed("summary") {
		a.cfg.SummaryWorkbook = opts.summary
	}
	if flags.Changed("continue-on-error") {
		a.cfg.ContinueOnError = opts.continueOnError
	}
}

// reopenOnHangup 收到 SIGHUP 时重新打开日志文件，配合外部 logrotate
func (a *app) reopenOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.logger.Reopen(""); err != nil {
				fmt.Fprintln(os.Stderr, "reopen log:", err)
				continue
			}
			a.logger.Info("log file reopened")
		}
	}
}

// runOnce 读取数据并生成全部图表
func (a *app) runOnce(ctx context.Context) error {
	start := time.Now()
	a.logger.Info(fmt.Sprintf("Loading data from %s...", a.cfg.DataPath))
	df, err := file.LoadDataset(a.cfg.DataPath, file.LoadOptions{
		Encoding:  a.cfg.Encoding,
		SheetName: a.cfg.SheetName,
	})
	if err != nil {
		a.logger.Log(storage.ERROR, "load failed", zap.Error(err))
		return err
	}
	a.logger.Log(storage.DEBUG, "data loaded", zap.Int("rows", df.Nrow()), zap.Int("cols", df.Ncol()))

	pl := &charts.Pipeline{
		Stages:          charts.Default(a.dcfg),
		Sink:            charts.NewSink(a.cfg.OutputDir, a.logger),
		Logger:          a.logger,
		Options:         charts.Options{DPI: a.cfg.DPI},
		ContinueOnError: a.cfg.ContinueOnError,
		SummaryPath:     a.cfg.SummaryWorkbook,
	}
	err = pl.Run(ctx, processor.NewDataProcessor(df, a.dcfg))
	a.logger.Log(storage.DEBUG, "run finished", zap.Duration("elapsed", time.Since(start)))

	if rerr := a.logger.CheckRotate(a.cfg.LogMaxSize); rerr != nil {
		a.logger.Warning("日志轮转失败: " + rerr.Error())
	}
	return err
}

// watch 先执行一次，之后文件变化或定时触发时重跑；两种触发串行执行
// 返回前等待正在进行的一次运行结束，之后的触发直接忽略
func (a *app) watch(ctx context.Context, every time.Duration) error {
	var (
		mu      sync.Mutex
		stopped bool
	)
	trigger := func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		if stopped || ctx.Err() != nil {
			return
		}
		a.logger.Log(storage.INFO, "run triggered", zap.String("reason", reason))
		if err := a.runOnce(ctx); err != nil {
			a.logger.Log(storage.ERROR, "run failed", zap.String("reason", reason), zap.Error(err))
		}
	}

	monitor, err := file.NewFileMonitor(a.cfg.DataPath, a.cfg.Watch.Debounce.Std())
	if err != nil {
		return err
	}
	defer monitor.Close()

	trigger("startup")

	var c *cron.Cron
	if every > 0 {
		c = cron.New()
		sched := fmt.Sprintf("@every %s", every)
		if err := c.AddFunc(sched, func() { trigger("schedule") }); err != nil {
			return fmt.Errorf("schedule %q: %w", sched, err)
		}
		c.Start()
	}

	a.logger.Info(fmt.Sprintf("watching %s (interval: %v), Ctrl+C to stop", a.cfg.DataPath, every))
	err = monitor.Watch(ctx, func(string) { trigger("file changed") })

	if c != nil {
		c.Stop()
	}
	mu.Lock()
	stopped = true
	mu.Unlock()
	return err
}
