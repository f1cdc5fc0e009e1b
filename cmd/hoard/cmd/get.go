package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hoardfs/hoard"
)

var getCmd = &cobra.Command{
	Use:   "get <key> <file>",
	Short: "Write a blob's content to a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) (err error) {
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
	return os.WriteFile(args[1], obj.Payload(), 0o644)
}
