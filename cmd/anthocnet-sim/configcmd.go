package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jihwankim/anthocnet/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the default configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(config.DefaultConfig())
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}
