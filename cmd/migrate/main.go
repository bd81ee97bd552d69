// Command migrate runs the SQL schema migrations under migrations/
// against the configured Postgres database, replacing the teacher's
// three bespoke one-shot fixup scripts (cmd/fix_relational_flows,
// cmd/migrate_data, cmd/sync_sequences — written against its old
// single-tenant SQLite column layout) with the declarative,
// versioned migration runner ManuelReschke-PixelFox's cmd/migrate
// uses for the same concern.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"whatsapp-platform/internal/config"
)

func main() {
	configPath := flag.String("config", "", "directory containing default.yaml")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		log.Fatal("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DB_URL must be set to run migrations against Postgres")
	}

	m, err := migrate.New("file://migrations", cfg.Database.URL)
	if err != nil {
		log.Fatalf("init migrator: %v", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Printf("close migrator: %v %v", srcErr, dbErr)
		}
	}()
	switch args[0] {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("migrate up: %v", err)
		} else if errors.Is(err, migrate.ErrNoChange) {
			log.Println("no change: database already at latest version")
		} else {
			log.Println("migrations applied")
		}
	case "down":
		if err := m.Steps(-1); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("rolled back one migration")
	case "goto":
		if len(args) < 2 {
			log.Fatal("goto requires a version number")
		}
		version, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			log.Fatalf("invalid version: %v", err)
		}
		if err := m.Migrate(uint(version)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("migrate goto %d: %v", version, err)
		}
		log.Printf("migrated to version %d", version)
	case "status":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Println("no migrations applied yet")
				return
			}
			log.Fatalf("read version: %v", err)
		}
		suffix := ""
		if dirty {
			suffix = " (dirty)"
		}
		log.Printf("current version: %d%s", version, suffix)
	default:
		printUsage()
		log.Fatalf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Println("usage: migrate [-config dir] <up|down|goto N|status>")
}
