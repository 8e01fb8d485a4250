// Root command and configuration resolution for cartonctl.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartondb/carton"
)

var (
	flagDataDir  string
	flagDatabase string
	flagTimezone string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "cartonctl",
	Short: "cartonctl manages carton databases",
	Long: `cartonctl manages carton databases: versioned container stores
with secondary indexes on an embedded key-value engine.

Configuration precedence: flag > CARTON_* environment variable > default.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		viper.SetEnvPrefix("carton")
		viper.AutomaticEnv()
		for flagName, key := range map[string]string{
			"data-dir": "data_dir",
			"db":       "db",
			"timezone": "timezone",
		} {
			if err := viper.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flagName)); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", ".carton", "directory holding the database files")
	rootCmd.PersistentFlags().StringVar(&flagDatabase, "db", "default", "database name")
	rootCmd.PersistentFlags().StringVar(&flagTimezone, "timezone", "", "timezone for the modification marker")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(lastModifiedCmd)
	rootCmd.AddCommand(containerCmd)
	rootCmd.AddCommand(indexesCmd)
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(clearCmd)
}

// openDB opens the configured database, returning a release function
// that must run before the process exits.
func openDB() (*carton.DB, func(), error) {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	eng, err := carton.OpenBoltEngine(viper.GetString("data_dir"), carton.BoltOptions{})
	if err != nil {
		return nil, nil, err
	}
	db, err := carton.New(eng, viper.GetString("db"), carton.Options{
		Logger:   logger,
		Timezone: viper.GetString("timezone"),
	})
	if err != nil {
		eng.Close()
		return nil, nil, err
	}
	return db, func() { eng.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseValue interprets a command-line value the way JSON would, so
// numbers and booleans match records inserted from JSON; anything that
// does not parse is taken as a plain string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func confirmf(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}
