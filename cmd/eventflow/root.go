package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries state shared by all subcommands.
type cli struct {
	v          *viper.Viper
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	return (&cli{v: viper.New()}).rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "eventflow",
		Short: "Operate eventflow tasks, ledgers and envelope stores",
		Long: `eventflow inspects and operates the stores behind an eventflow deployment.

Examples:
  eventflow tasks list --state RUNNING
  eventflow tasks cancel 5f0c...
  eventflow ledger tail 5f0c... -n 50
  eventflow envelopes list --state QUEUED
  eventflow purge --older-than 168h
  eventflow retry-failed --max-attempts 5`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Settings file (.yaml, .yml or .json)")
	flags.String("storage-driver", "", "Envelope and task storage driver (memory, sqlite)")
	flags.String("dsn", "", "Envelope and task storage DSN")
	flags.String("ledger-driver", "", "Ledger driver (memory, sqlite, postgres); defaults to the storage driver")
	flags.String("ledger-dsn", "", "Ledger DSN; defaults to the storage DSN")
	flags.BoolVar(&c.jsonOutput, "json", false, "Output in JSON format")

	c.v.SetEnvPrefix("EVENTFLOW")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()
	_ = c.v.BindPFlag("config", flags.Lookup("config"))
	_ = c.v.BindPFlag("storage.driver", flags.Lookup("storage-driver"))
	_ = c.v.BindPFlag("storage.dsn", flags.Lookup("dsn"))
	_ = c.v.BindPFlag("ledger.driver", flags.Lookup("ledger-driver"))
	_ = c.v.BindPFlag("ledger.dsn", flags.Lookup("ledger-dsn"))

	root.AddCommand(
		c.tasksCmd(),
		c.ledgerCmd(),
		c.envelopesCmd(),
		c.purgeCmd(),
		c.retryFailedCmd(),
	)
	return root
}
