package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hoardfs/hoard"
)

var statCmd = &cobra.Command{
	Use:   "stat <key>",
	Short: "Describe the object stored under a key",
	Long:  "Probe every object kind for key and describe what is found. Exits 1 when the key is absent.",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

func init() {
	rootCmd.AddCommand(statCmd)
}

func runStat(cmd *cobra.Command, args []string) (err error) {
	key, err := hoard.ParseKey(args[0])
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

	ctx := cmd.Context()
	found := false
	for _, kind := range []hoard.ObjectKind{hoard.KindBlob, hoard.KindTree, hoard.KindCommit} {
		obj, err := s.Get(ctx, kind, key)
		if err != nil {
			if hoard.IsCorruptObject(err) {
				found = true
				fmt.Printf("kind: %s\nstatus: corrupt\ndetail: %v\n", kind, err)
				continue
			}
			continue
		}
		found = true
		fmt.Printf("kind: %s\nsize: %d\n", obj.Kind(), obj.Size())

		switch kind {
		case hoard.KindTree:
			if entries, err := obj.TreeEntries(); err == nil {
				fmt.Printf("entries: %d\n", len(entries))
			}
		case hoard.KindCommit:
			if meta, err := obj.Commit(); err == nil {
				fmt.Printf("tree: %s\nauthor: %s\ndate: %s\n", meta.Tree, meta.Author, meta.Time)
			}
		}
	}

	if !found {
		fmt.Fprintf(os.Stderr, "%s: not found\n", key)
		os.Exit(1)
	}
	return nil
}
