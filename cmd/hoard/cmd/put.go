package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hoardfs/hoard"
)

var putCmd = &cobra.Command{
	Use:   "put [file...]",
	Short: "Store files as blobs",
	Long:  "Store each file as a blob object and print its key. With no arguments, reads one blob from stdin.",
	RunE:  runPut,
}

func init() {
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) (err error) {
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

	if len(args) == 0 {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		key, err := s.Put(ctx, hoard.NewBlob(content))
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	}

	// Multiple files land in one atomic batch.
	objs := make([]*hoard.Object, len(args))
	for i, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		objs[i] = hoard.NewBlob(content)
	}
	keys, err := s.PutBatch(ctx, objs)
	if err != nil {
		return err
	}
	for i, key := range keys {
		fmt.Printf("%s\t%s\n", key, args[i])
	}
	return nil
}
