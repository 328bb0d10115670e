package cli

import (
	"github.com/spf13/cobra"

	"github.com/you-humble/apsplot/internal/app"
)

var durable string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print run events as workflows publish them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return app.New(cfgPath).Watch(cmd.Context(), durable, cmd.OutOrStdout())
	},
}

func init() {
	watchCmd.Flags().StringVar(&durable, "durable", "apsplot-watch", "JetStream consumer name")
}
