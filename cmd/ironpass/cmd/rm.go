package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/tree"
)

var rmRecursive bool

var rmCmd = &cobra.Command{
	Use:   "rm path",
	Short: "Remove a password or, with --recursive, a directory",
	Args:  requireArgs(1, "path"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(s *session) error {
			item, err := s.store.Item(args[0])
			if err != nil {
				return err
			}
			if _, isDir := item.(*tree.Directory); isDir && !rmRecursive {
				return fmt.Errorf("%s is a directory, use --recursive", item.Path())
			}
			if err := s.store.Remove(item.Path()); err != nil {
				return err
			}
			printSuccess(cmd, "Removed %s", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "r", false, "remove directories and their contents")
}
