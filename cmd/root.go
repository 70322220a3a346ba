package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/example/availability-orchestrator/internal/config"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "availd",
		Short:         "Keeps restaurant availability slots in step with configuration changes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("database-url", "", "Postgres connection URL (env DATABASE_URL)")
	flags.String("redis-url", "", "Redis URL for shared stale flags and events (env REDIS_URL)")
	flags.String("stale-store", "", "where stale flags live: memory, redis or sqlite (env STALE_STORE)")
	flags.String("sqlite-path", "", "SQLite file for STALE_STORE=sqlite (env SQLITE_PATH)")
	flags.String("ags-base-url", "", "availability generation service URL (env AGS_BASE_URL)")
	flags.String("log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	flags.String("log-format", "", "json or console (env LOG_FORMAT)")

	for key, flag := range map[string]string{
		config.KeyDatabaseURL: "database-url",
		config.KeyRedisURL:    "redis-url",
		config.KeyStaleStore:  "stale-store",
		config.KeySQLitePath:  "sqlite-path",
		config.KeyAGSBaseURL:  "ags-base-url",
		config.KeyLogLevel:    "log-level",
		config.KeyLogFormat:   "log-format",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	config.SetDefaults(v)

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServerCmd(v))
	root.AddCommand(newMigrateCmd(v))
	root.AddCommand(newStaleCmd(v))
	root.AddCommand(newRegenCmd(v))
	root.AddCommand(newConflictsCmd(v))

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
