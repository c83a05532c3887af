package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var findShallow bool

var findCmd = &cobra.Command{
	Use:   "find pattern",
	Short: "List passwords whose name contains pattern",
	Args:  requireArgs(1, "pattern"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(s *session) error {
			paths, err := s.store.Search(args[0], !findShallow)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(findCmd)
	findCmd.Flags().BoolVar(&findShallow, "shallow", false, "only search the root directory")
}
