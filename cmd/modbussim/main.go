// Command modbussim runs the Modbus TCP slave simulator described in
// SPEC_FULL.md. Ref: SPEC_FULL.md #2 component J, #9 "Why cobra/viper for
// the CLI" - generalizes the teacher's single-flag cmd/server/main.go into a
// cobra command tree backed by viper for layered configuration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voronovmaksim88/modbus-tcp-slave-sim/config"
)

// version is set by the release process; left as a placeholder constant
// when building from source.
const version = "0.1.0-dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "modbussim",
		Short: "Modbus TCP slave simulator",
		Long:  "modbussim emulates a Modbus TCP field device against a user-supplied variable catalog.",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML or JSON config file")

	serveCmd := newServeCommand(v, &cfgFile)
	root.AddCommand(serveCmd)
	root.AddCommand(newValidateCatalogCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the modbussim version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

// resolveConfig reads the layered configuration for cmd, whose flags must
// already be bound via config.BindFlags at command-construction time.
func resolveConfig(v *viper.Viper, cfgFile *string) (*config.Config, error) {
	return config.Load(v, *cfgFile)
}
