package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lsKind string

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored keys",
	Long:  "List every key of one object kind, one per line.",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

func init() {
	lsCmd.Flags().StringVar(&lsKind, "kind", "blob", "object kind: blob, tree or commit")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) (err error) {
	kind, err := parseKind(lsKind)
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

	count := 0
	for key, kerr := range s.Keys(cmd.Context(), kind) {
		if kerr != nil {
			return kerr
		}
		fmt.Println(key)
		count++
	}

	if count == 0 {
		fmt.Println("(no objects)")
	}
	return nil
}
