package cmd

import (
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show path",
	Short: "Decrypt and print a password",
	Args:  requireArgs(1, "path"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(s *session) error {
			if _, err := s.store.Password(args[0]); err != nil {
				return err
			}
			if err := s.unlockFor(cmd, args[0]); err != nil {
				return err
			}
			content, err := s.store.Show(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			out.Write(content)
			if len(content) > 0 && content[len(content)-1] != '\n' {
				out.Write([]byte{'\n'})
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
