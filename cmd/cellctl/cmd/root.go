package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cellctl",
	Short: "Cellctl is a command line tool for driving a document's execution queue",
	Long: `cellctl is the command-line interface for the cellplane execution
orchestration subsystem.

Cellplane coordinates multi-user notebook execution over a shared
append-only event log: requests queue per cell, runtime sessions claim
and execute them, and every attached process converges on the same
state by reducing the same ordered event sequence.

Common workflows:

  Request execution of a cell:
    cellctl run cell-a1 --priority 75

  Inspect the queue and sessions:
    cellctl status
    cellctl sessions

  Show a cell's consolidated outputs:
    cellctl outputs cell-a1

  Ask the running session to stop a cell:
    cellctl interrupt cell-a1 --reason "wrong input"

Configuration:
  Set the document and event log location via environment variables,
  flags, or a config file:
    CELLPLANE_DOCUMENT    Document ID to attach to
    CELLPLANE_DATABASE    Postgres connection string of the event log`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".cellctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".cellctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "CELLPLANE_VARNAME"
	viper.SetEnvPrefix("CELLPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cellctl.yaml)")

	rootCmd.PersistentFlags().StringP("document", "d", "", "document ID to attach to")
	viper.BindPFlag("document", rootCmd.PersistentFlags().Lookup("document"))

	rootCmd.PersistentFlags().String("database", "", "Postgres connection string of the event log")
	viper.BindPFlag("database", rootCmd.PersistentFlags().Lookup("database"))
}
