package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kouhin/envflag"

	"github.com/vechain/dposcore/cmd/dposcore"
	"github.com/vechain/dposcore/config"
)

var (
	dataDirFlag      = flag.String("data-dir", config.DefaultDataDir, "leveldb directory, empty for in-memory (env var: DATA_DIR)")
	genesisFlag      = flag.String("genesis", "", "genesis file, .json or .xlsx (env var: GENESIS)")
	callsFlag        = flag.String("calls", "", "JSON-lines file of calls to replay (env var: CALLS)")
	auditWorkersFlag = flag.Int("audit-workers", config.DefaultAuditWorkers, "concurrent round checks during audit (env var: AUDIT_WORKERS)")
	logLevelFlag     = flag.String("log-level", "info", "debug, info, warn or error (env var: LOG_LEVEL)")
	influxUrlFlag    = flag.String("influx-url", "", "influxdb URL, stats export is disabled when empty (env var: INFLUX_URL)")
	influxTokenFlag  = flag.String("influx-token", config.DefaultInfluxToken, "influxdb auth token, (env var: INFLUX_TOKEN)")
	influxOrg        = flag.String("influx-org", config.DefaultInfluxOrg, "influxdb organization, (env var: INFLUX_ORG)")
	influxBucket     = flag.String("influx-bucket", config.DefaultInfluxBucket, "influxdb bucket, (env var: INFLUX_BUCKET)")
)

func main() {
	if err := envflag.Parse(); err != nil {
		slog.Error("failed to parse flags", "error", err)
		flag.PrintDefaults()
		os.Exit(1)
	}
	setLogLevel(*logLevelFlag)

	cmd, err := dposcore.New(dposcore.Options{
		DataDir:      *dataDirFlag,
		Genesis:      *genesisFlag,
		Calls:        *callsFlag,
		AuditWorkers: *auditWorkersFlag,
		InfluxURL:    *influxUrlFlag,
		InfluxToken:  *influxTokenFlag,
		InfluxOrg:    *influxOrg,
		InfluxBucket: *influxBucket,
	})
	if err != nil {
		slog.Error("failed to create dposcore command", "error", err)
		flag.PrintDefaults()
		os.Exit(1)
	}

	summary, err := cmd.Run(exitContext())
	cmd.Close()
	if err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
	if err := summary.Write(os.Stdout); err != nil {
		slog.Error("failed to write summary", "error", err)
	}
	if !summary.Audit.OK() {
		os.Exit(2)
	}
}

func setLogLevel(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		slog.Warn("unknown log level, using info", "level", level)
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func exitContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		exitSignalCh := make(chan os.Signal, 1)
		signal.Notify(exitSignalCh, os.Interrupt, syscall.SIGTERM)

		sig := <-exitSignalCh
		slog.Info("exit signal received", "signal", sig)
		cancel()
	}()
	return ctx
}
