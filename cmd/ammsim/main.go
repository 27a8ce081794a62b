package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARN: load .env: %v", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "ammsim",
		Short:         "AMM trading simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml if present)")

	root.AddCommand(
		newServeCmd(&cfgFile),
		newSimulateCmd(&cfgFile),
		newMigrateCmd(&cfgFile),
	)
	return root
}

// addCommonFlags registers the flags every command shares. Names match the
// config keys so config.Load can bind them directly.
func addCommonFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("postgres-dsn", "", "Postgres DSN; empty runs in memory")
}

func addNPCFlags(fs *pflag.FlagSet) {
	fs.Bool("npc-enabled", true, "run the NPC trader")
	fs.Duration("npc-interval", 3*time.Second, "time between NPC trade rolls")
	fs.Float64("npc-probability", 0.3, "chance an NPC trades on each roll")
	fs.Int("npc-min-reputation", 10, "NPCs trade only above this player reputation")
}
