package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate recommendations once and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Exchange.Generate(cmd.Context())
		if report != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(report)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
