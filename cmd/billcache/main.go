package main

import (
	"context"
	_ "embed"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tigerroll/billcache/internal/app"
	"github.com/tigerroll/billcache/pkg/batch/support/util/logger"
)

// embeddedConfig embeds the application's YAML configuration.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// main starts billcache. Without arguments it serves scheduled refreshes until SIGINT or
// SIGTERM. "refresh <dataset>...", "run <workflow>..." and "run-all" run once and exit.
func main() {
	triggeredBy := flag.String("triggered-by", envOr("USER", "cli"), "identity recorded on refreshes and workflow runs")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := app.Command{Name: flag.Arg(0), TriggeredBy: *triggeredBy}
	if flag.NArg() > 1 {
		cmd.Args = flag.Args()[1:]
	}

	envFilePath := envOr("ENV_FILE_PATH", ".env")
	providers := app.ProviderOptions(
		splitList(envOr("DB_ADAPTORS", "postgres,mysql,sqlite")),
		splitList(envOr("STORAGE_ADAPTORS", "local,gcs")),
	)

	backends := app.Backends{
		Repository: envOr("REPOSITORY_BACKEND", app.DefaultBackends.Repository),
		Metrics:    envOr("METRICS_BACKEND", app.DefaultBackends.Metrics),
	}

	if err := app.RunApplication(ctx, envFilePath, embeddedConfig, providers, backends, cmd); err != nil {
		logger.Errorf("billcache: %v", err)
		os.Exit(1)
	}
}
