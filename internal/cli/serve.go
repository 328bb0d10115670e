package cli

import (
	"github.com/spf13/cobra"

	"github.com/you-humble/apsplot/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the viewer front end",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return app.New(cfgPath).Serve(cmd.Context())
	},
}
