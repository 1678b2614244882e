// Package main is the admin CLI for the shopping assistant.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/capitalize-ai/shopping-assistant/internal/config"
	"github.com/capitalize-ai/shopping-assistant/internal/persona"
	"github.com/capitalize-ai/shopping-assistant/internal/service"
	"github.com/capitalize-ai/shopping-assistant/internal/store"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	cfg := config.Load()

	log, err := logger.New("warn")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := store.Open(context.Background(), cfg.DatabaseDSN, cfg.DBMaxOpenConns, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	personas := store.NewPersonaStore(db)
	app := newCLIApp(deps{
		personas:  service.NewPersonaService(personas, persona.NewRecognizer(personas, log), log),
		sessions:  store.NewSessionStore(db),
		jwtSecret: cfg.JWTSecret,
	}, os.Stdout)

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		db.Close()
		os.Exit(1)
	}
}
