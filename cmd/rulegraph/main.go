package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/rulegraph/cmd/rulegraph/commands"
	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

// Set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(telemetry.ParseLevel(os.Getenv("LOG_LEVEL"))).
		With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Execute(ctx, Version, Commit, BuildDate)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("rulegraph failed")
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for rejected input records and documents, 1 otherwise.
func exitCode(err error) int {
	var re *engine.RuleError
	if errors.As(err, &re) && (re.Class == engine.ErrorClassValidation || re.Class == engine.ErrorClassGraph) {
		return 2
	}
	return 1
}
