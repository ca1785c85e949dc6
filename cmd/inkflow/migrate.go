package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/BaSui01/inkflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

func migrateCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "db-type", Usage: "Database type: postgres, mysql, sqlite (default: from config)"},
		&cli.StringFlag{Name: "db-url", Usage: "Database connection URL (default: from config)"},
	}
	return &cli.Command{
		Name:  "migrate",
		Usage: "Database migration commands",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Flags: flags,
				Action: withMigrator(func(c *cli.Context, m *migration.CLI) error {
					return m.RunUp(c.Context)
				}),
			},
			{
				Name:      "down",
				Usage:     "Roll back migrations (default: the last one)",
				ArgsUsage: "[n]",
				Flags:     flags,
				Action: withMigrator(func(c *cli.Context, m *migration.CLI) error {
					n := 1
					if c.NArg() > 0 {
						v, err := strconv.Atoi(c.Args().First())
						if err != nil || v < 1 {
							return fmt.Errorf("invalid step count %q", c.Args().First())
						}
						n = v
					}
					return m.RunSteps(c.Context, -n)
				}),
			},
			{
				Name:  "status",
				Usage: "Show migration status",
				Flags: flags,
				Action: withMigrator(func(c *cli.Context, m *migration.CLI) error {
					return m.RunStatus(c.Context)
				}),
			},
			{
				Name:  "version",
				Usage: "Show current migration version",
				Flags: flags,
				Action: withMigrator(func(c *cli.Context, m *migration.CLI) error {
					return m.RunVersion(c.Context)
				}),
			},
		},
	}
}

// withMigrator 从命令行参数或配置创建迁移器，执行 fn 后关闭
func withMigrator(fn func(*cli.Context, *migration.CLI) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		m, err := newMigrator(c)
		if err != nil {
			return err
		}
		defer m.Close()

		out := migration.NewCLI(m)
		out.SetOutput(c.App.Writer)
		return fn(c, out)
	}
}

func newMigrator(c *cli.Context) (*migration.DefaultMigrator, error) {
	dbType, dbURL := c.String("db-type"), c.String("db-url")
	if dbType != "" && dbURL != "" {
		t, err := migration.ParseDatabaseType(dbType)
		if err != nil {
			return nil, err
		}
		return migration.NewMigrator(&migration.Config{DatabaseType: t, DatabaseURL: dbURL})
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromConfig(cfg.Database)
}
