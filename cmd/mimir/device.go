package mimir

import (
	"github.com/edgeflare/mimir/pkg/device"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Show the detected compute devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := device.NewChecker().Info(cmd.Context())
		return printOutput(cmd.OutOrStdout(), viper.GetString("device.output"), info)
	},
}

func init() {
	f := deviceCmd.Flags()
	f.StringP("output", "o", "json", "output format: json or yaml")
	bindFlags(f, "device")
	rootCmd.AddCommand(deviceCmd)
}
