package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"heapkit/internal/heapdump"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [flags] <snapshot>",
	Short: "Render a heap snapshot as a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().String("kind", "", "only show objects of this kind")
	inspectCmd.Flags().Int("limit", 0, "maximum number of rows (0 for all)")
	inspectCmd.Flags().Int("width", 0, "table width (default: terminal width)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	kind, err := cmd.Flags().GetString("kind")
	if err != nil {
		return fmt.Errorf("failed to get kind flag: %w", err)
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return fmt.Errorf("failed to get limit flag: %w", err)
	}
	width, err := cmd.Flags().GetInt("width")
	if err != nil {
		return fmt.Errorf("failed to get width flag: %w", err)
	}
	if width == 0 && isTerminal(os.Stdout) {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			width = w
		}
	}

	snap, err := heapdump.ReadFile(args[0])
	if err != nil {
		return err
	}
	return heapdump.Render(cmd.OutOrStdout(), snap, heapdump.RenderOptions{
		Width: width,
		Kind:  kind,
		Limit: limit,
	})
}
