package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/you-humble/apsplot/internal/app"
)

var runsCmd = &cobra.Command{
	Use:   "runs <id>",
	Short: "Print the journal entry of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := app.New(cfgPath).Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}
