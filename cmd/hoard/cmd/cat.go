package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hoardfs/hoard"
)

var catCmd = &cobra.Command{
	Use:   "cat <key>",
	Short: "Print a blob's content",
	Long:  "Fetch the blob stored under key and write its payload to stdout.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) (err error) {
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

	obj, err := s.Get(cmd.Context(), hoard.KindBlob, key)
	if err != nil {
		return err
	}
	if _, err := os.Stdout.Write(obj.Payload()); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	return nil
}
