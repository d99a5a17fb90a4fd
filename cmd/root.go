package cmd

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

var verbosity int

var rootCmd = &cobra.Command{
	Use:   "weappauth",
	Short: "weappauth CLI",
	Long:  "CLI for weappauth login, session and migration operations.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("verbose") {
			if value, err := strconv.Atoi(lookupEnv("WEAPPAUTH_VERBOSE")); err == nil {
				verbosity = value
			}
		}
		stdr.SetVerbosity(verbosity)
	},
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0, "Log verbosity. Can also be set via WEAPPAUTH_VERBOSE.")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of weappauth CLI",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

func Execute() error {
	return rootCmd.Execute()
}

func newLogger(name string) logr.Logger {
	return stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName(name)
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func stringDefault(flagValue string, keys ...string) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}
	for _, key := range keys {
		if value := lookupEnv(key); value != "" {
			return value
		}
	}
	return ""
}
