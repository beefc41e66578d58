package main

import (
	"context"
	"os"
	"strings"

	"github.com/dmitrijs2005/recordguard/internal/auditctl"
	"github.com/dmitrijs2005/recordguard/internal/logging"
	"github.com/dmitrijs2005/recordguard/internal/server"
	"github.com/dmitrijs2005/recordguard/internal/server/config"
	"github.com/dmitrijs2005/recordguard/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/recordguard/internal/server/services"
)

// commands returns the leading positional arguments. Config flags follow
// them and are read by config.LoadConfig.
func commands(args []string) []string {
	for i, a := range args {
		if strings.HasPrefix(a, "-") {
			return args[:i]
		}
	}
	return args
}

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.NewJSONLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	connect := func(ctx context.Context) (auditctl.Verifier, func(), error) {
		keys, err := server.LoadKeyMaterial(cfg)
		if err != nil {
			return nil, nil, err
		}
		rm := repomanager.NewPostgresRepositoryManager()
		db, err := server.OpenDatabase(ctx, cfg, rm)
		if err != nil {
			return nil, nil, err
		}
		alerter, err := server.NewAlerter(ctx, cfg, logger)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		ledger := services.NewAuditLedger(db, rm, keys, logger, services.WithAlerter(alerter))
		return ledger, func() { _ = db.Close() }, nil
	}

	app := auditctl.NewApp(connect, cfg.PasswordMinLength, os.Stdout)
	os.Exit(app.Run(ctx, commands(os.Args[1:])))

}
