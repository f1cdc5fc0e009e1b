package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hoardfs/hoard"
)

var gcKind string

var gcCmd = &cobra.Command{
	Use:   "gc [key...]",
	Short: "Delete unreferenced objects",
	Long: "Delete the given keys, passed as arguments or one per line on stdin. " +
		"Reachability is the caller's responsibility; every listed key is deleted unconditionally.",
	RunE: runGC,
}

func init() {
	gcCmd.Flags().StringVar(&gcKind, "kind", "blob", "object kind: blob, tree or commit")
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) (err error) {
	kind, err := parseKind(gcKind)
	if err != nil {
		return err
	}

	raw := args
	if len(raw) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				raw = append(raw, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
	}

	keys := make([]hoard.ObjectKey, len(raw))
	for i, r := range raw {
		if keys[i], err = hoard.ParseKey(r); err != nil {
			return err
		}
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

	removed, err := s.DeleteUnreferenced(cmd.Context(), kind, keys)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Removed %d of %d objects.\n", removed, len(keys))
	return nil
}
