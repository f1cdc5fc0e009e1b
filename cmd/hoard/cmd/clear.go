package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var clearKind string

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every object of one kind",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	clearCmd.Flags().StringVar(&clearKind, "kind", "", "object kind: blob, tree or commit (required)")
	clearCmd.MarkFlagRequired("kind")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) (err error) {
	kind, err := parseKind(clearKind)
	if err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	cleared, err := s.ClearKind(cmd.Context(), kind)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Removed %d %s objects.\n", cleared, kind)
	return nil
}
