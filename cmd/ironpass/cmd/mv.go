package cmd

import (
	"github.com/spf13/cobra"
)

var relocateForce bool

var mvCmd = &cobra.Command{
	Use:   "mv source destination",
	Short: "Move or rename a password or directory",
	Long: `Moves source. If destination ends in "/" or names an existing directory the
entry keeps its name inside it. Passwords are re-encrypted when the recipients
of their new directory differ.`,
	Args: requireArgs(2, "source destination"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(s *session) error {
			if err := s.unlockSource(cmd, args[0]); err != nil {
				return err
			}
			item, err := s.store.Move(cmd.Context(), args[0], args[1], relocateForce)
			if err != nil {
				return err
			}
			printSuccess(cmd, "Moved %s to %s", args[0], item.Path())
			return nil
		})
	},
}

var cpCmd = &cobra.Command{
	Use:   "cp source destination",
	Short: "Copy a password or directory",
	Args:  requireArgs(2, "source destination"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(s *session) error {
			if err := s.unlockSource(cmd, args[0]); err != nil {
				return err
			}
			item, err := s.store.Copy(cmd.Context(), args[0], args[1], relocateForce)
			if err != nil {
				return err
			}
			printSuccess(cmd, "Copied %s to %s", args[0], item.Path())
			return nil
		})
	},
}

// unlockSource unlocks a key for the passwords under src, which a relocation
// may have to re-encrypt.
func (s *session) unlockSource(cmd *cobra.Command, src string) error {
	item, err := s.store.Item(src)
	if err != nil {
		return err
	}
	if !hasPasswords(item) {
		return nil
	}
	return s.unlockFor(cmd, item.Path())
}

func init() {
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(cpCmd)
	for _, c := range []*cobra.Command{mvCmd, cpCmd} {
		c.Flags().BoolVarP(&relocateForce, "force", "f", false, "replace an existing destination")
	}
}
