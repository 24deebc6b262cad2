// seed ensures dashboard catalog entries and pre-provisions an access profile for an email.
// Repeatable: existing companies, warehouses, tabs and orphan profiles are reused.
//
//	go run ./cmd/seed -email ceo@example.com -authorized \
//	    -companies Acme -warehouses "Acme/North" -tabs "ceo_view:CEO View,ops"
package main

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	accessrepo "command-center/backend/internal/access/repository"
	accessservice "command-center/backend/internal/access/service"
	"command-center/backend/internal/config"
	"command-center/backend/internal/db"
	"command-center/backend/internal/logs"
)

func main() {
	email := flag.String("email", "", "Email to pre-provision; empty seeds only the catalog")
	authorized := flag.Bool("authorized", false, "Mark the profile authorized to use the dashboard")
	companies := flag.String("companies", "", "Comma-separated company names")
	warehouses := flag.String("warehouses", "", "Comma-separated Company/Warehouse pairs")
	tabs := flag.String("tabs", "", "Comma-separated tab keys, each optionally key:Display Name")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logs.Logger.Fatalf("config: %v", err)
	}
	if err := logs.Init(logs.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile}); err != nil {
		logs.Logger.Fatalf("logs: %v", err)
	}
	if cfg.DatabaseURL == "" {
		logs.Logger.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	tabSpecs, err := accessservice.ParseTabs(config.SplitList(*tabs))
	if err != nil {
		logs.Logger.Fatalf("seed: %v", err)
	}
	whSpecs, err := accessservice.ParseWarehouses(config.SplitList(*warehouses))
	if err != nil {
		logs.Logger.Fatalf("seed: %v", err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logs.Logger.Fatalf("db: %v", err)
	}
	defer conn.Close()

	repo := accessrepo.NewPostgresRepository(conn)
	prov := accessservice.NewProvisioner(repo, repo)
	profile, err := prov.Apply(context.Background(), accessservice.SeedPlan{
		Email:      *email,
		Authorized: *authorized,
		Companies:  config.SplitList(*companies),
		Warehouses: whSpecs,
		Tabs:       tabSpecs,
	})
	if err != nil {
		logs.Logger.Fatalf("seed: %v", err)
	}
	fields := logrus.Fields{"companies": len(config.SplitList(*companies)), "warehouses": len(whSpecs), "tabs": len(tabSpecs)}
	if profile != nil {
		fields["profile_id"] = profile.ID
		fields["email"] = profile.Email
		fields["authorized"] = profile.IsAuthorized
	}
	logs.Logger.WithFields(fields).Info("seed applied")
}
