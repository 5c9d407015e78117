package commands

import (
	"github.com/spf13/cobra"
	"github.com/use-agent/partharvest/persist"
)

func init() {
	rootCmd.AddCommand(convertCmd)
}

var convertCmd = &cobra.Command{
	Use:   "convert <products.csv> [products.json]",
	Short: "Converts a tabular artifact into the hierarchical JSON form.",
	Long: `Converts a CSV file into a JSON array of objects, one per row.

Missing values become null and cells holding a JSON object are embedded as
objects. The output defaults to the input path with a .json extension.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		loadConfig()

		var jsonPath string
		if len(args) == 2 {
			jsonPath = args[1]
		}
		_, err := persist.ConvertFile(args[0], jsonPath)
		return err
	},
}
