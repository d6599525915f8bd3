// migrate applies the embedded SQL migrations for STORE=postgres|pgx|sqlite.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/database"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up, down or version")
	flag.Parse()

	cfg, err := config.Read()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if !cfg.SQLStore() {
		fmt.Fprintf(os.Stderr, "STORE=%q has no SQL migrations\n", cfg.Store)
		os.Exit(1)
	}

	if err := run(cfg.Database(), *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(cfg database.Config, direction string) error {
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	m, err := database.NewMigrator(db, cfg.Driver)
	if err != nil {
		db.Close()
		return err
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		v, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return nil
		}
		if verr != nil {
			return verr
		}
		fmt.Printf("version %d (dirty: %t)\n", v, dirty)
		return nil
	default:
		return fmt.Errorf("direction must be up, down or version, got %q", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		// Already at target version; success.
		return nil
	}
	return err
}
