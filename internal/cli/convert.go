package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/you-humble/apsplot/internal/app"
	"github.com/you-humble/apsplot/internal/domain"
)

var convertCmd = &cobra.Command{
	Use:   "convert <drawing.dwg>",
	Short: "Upload a drawing, run the viewer translation and the PDF plot, download the PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := app.New(cfgPath).Convert(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		writeSummary(cmd.OutOrStdout(), run)
		return nil
	},
}

// writeSummary prints what a finished convert run produced, starting with the
// id that `runs` and /runs/{id}/pdf take.
func writeSummary(out io.Writer, run domain.Run) {
	fmt.Fprintf(out, "Run: %s\n", run.ID)
	fmt.Fprintf(out, "URN ready for viewer: %s\n", run.URN)
	fmt.Fprintf(out, "PDF saved to: %s (%d bytes", run.OutputPath, run.OutputSize)
	if run.PageCount > 0 {
		fmt.Fprintf(out, ", %d pages", run.PageCount)
	}
	fmt.Fprintln(out, ")")
}
