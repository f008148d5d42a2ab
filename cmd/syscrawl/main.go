package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/solstice/syscrawl/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "syscrawl",
		Short: "BoardGameGeek game system crawler",
		Long: `syscrawl harvests the most popular board games from BoardGameGeek listing
pages, fetches their detail data and reconciles it into the game system
catalogue. Reconciliation only fills gaps: curated values are never
overwritten.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/syscrawl.yaml)")
	rootCmd.PersistentFlags().String("db", "syscrawl.db", "catalogue database (SQLite path or postgres:// DSN)")
	rootCmd.PersistentFlags().String("user-agent", "", "User-Agent sent with every request")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("user-agent", rootCmd.PersistentFlags().Lookup("user-agent"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	// Unprefixed variables shared with the rest of the platform
	viper.BindEnv("user-agent", "CRAWLER_USER_AGENT")
	viper.BindEnv("limit", "BGG_LIMIT")
	viper.BindEnv("sort", "BGG_SORT")
	viper.BindEnv("sort-dir", "BGG_SORT_DIR")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("syscrawl")
		viper.SetConfigType("yaml")
	}

	// SYSCRAWL_DB, SYSCRAWL_GCS_BUCKET, ...
	viper.SetEnvPrefix("SYSCRAWL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

// setupLogging applies --verbose/--quiet
func setupLogging() {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
