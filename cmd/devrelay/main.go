package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/iabtm/rtc-core/internal/config"
	"github.com/iabtm/rtc-core/internal/relay"
	"github.com/iabtm/rtc-core/lib/logger/sl"
	"github.com/iabtm/rtc-core/lib/logger/slogpretty"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	r := relay.New(log)
	router := relay.SetupRouter(r)

	log.Info("starting dev relay", slog.String("addr", cfg.Relay.Address))
	if err := router.Run(cfg.Relay.Address); err != nil {
		log.Error("relay stopped", sl.Err(err))
		os.Exit(1)
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
