// Package cli provides the headless dbridge command line: metadata listing,
// ad-hoc queries, and import/export against a saved or ad-hoc profile.
package cli

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sadopc/dbridge/internal/config"
)

// Version information (set at build time).
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

// connFlags select what to connect to.
type connFlags struct {
	profile  string
	engine   string
	host     string
	port     int
	user     string
	password string
	database string
	file     string
	sslmode  string
}

type runtime struct {
	cfgFile string
	conn    connFlags
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:   "dbridge",
		Short: "Inspect, query, import and export MySQL, PostgreSQL and SQLite databases",
		Long: `dbridge connects to a database and reports what the connected user may do.

Examples:
  dbridge --profile prod tables
  dbridge --engine sqlite --file ./data.db query "SELECT count(*) FROM users"
  dbridge --engine mysql -H localhost -u root -d shop export --out shop.sql`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(rt.cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			level, _ := cfg.LogLevel()
			rt.cfg = cfg
			rt.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&rt.cfgFile, "config", "c", "", "Config file path")
	pf.StringVar(&rt.conn.profile, "profile", "", "Saved connection profile name")
	pf.StringVarP(&rt.conn.engine, "engine", "e", "", "Database engine (mysql, postgres, sqlite)")
	pf.StringVarP(&rt.conn.host, "host", "H", "", "Database host")
	pf.IntVarP(&rt.conn.port, "port", "p", 0, "Database port")
	pf.StringVarP(&rt.conn.user, "user", "u", "", "Database user")
	pf.StringVarP(&rt.conn.password, "password", "P", "", "Database password")
	pf.StringVarP(&rt.conn.database, "database", "d", "", "Database to select")
	pf.StringVarP(&rt.conn.file, "file", "f", "", "Database file (sqlite)")
	pf.StringVar(&rt.conn.sslmode, "sslmode", "", "PostgreSQL sslmode")

	// Config overrides; see config.Load.
	pf.Duration("connect-timeout", 10*time.Second, "Connection timeout")
	pf.Duration("query-timeout", 0, "Statement timeout (0 disables)")
	pf.String("profiles-file", "", "Saved profiles file")
	pf.Int("page-size", 500, "Rows fetched per export page")
	pf.Int("batch-size", 100, "Rows committed per tabular import batch")
	pf.String("log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newVersionCmd(),
		newDatabasesCmd(rt),
		newTablesCmd(rt),
		newColumnsCmd(rt),
		newGrantsCmd(rt),
		newQueryCmd(rt),
		newExportCmd(rt),
		newImportCmd(rt),
		newHistoryCmd(rt),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("dbridge %s (commit: %s, built: %s)\n", Version, GitCommit, BuildDate)
		},
	}
}
