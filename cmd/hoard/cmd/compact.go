package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact the store",
	Long:  "Run the storage engine's compaction, reclaiming space left by deleted objects.",
	Args:  cobra.NoArgs,
	RunE:  runCompact,
}

func init() {
	rootCmd.AddCommand(compactCmd)
}

func runCompact(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fmt.Fprintln(os.Stderr, "Compacting...")
	if err := s.Compact(cmd.Context()); err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Done.")
	return nil
}
