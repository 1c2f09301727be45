package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pigrew/vxi11d/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration file utilities",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return &ConfigError{Err: err}
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return &ConfigError{Err: err}
	}
	fmt.Print(string(out))
	return nil
}
