package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/crypto"
)

var initPath string

var initCmd = &cobra.Command{
	Use:   "init key-id...",
	Short: "Set the recipients of the store or of a subdirectory",
	Long: `Sets the keys passwords are encrypted to. Without --path the root of the
store is initialized. Passwords that inherit the recipients are re-encrypted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]crypto.KeyID, 0, len(args))
		for _, a := range args {
			ids = append(ids, crypto.KeyID(a))
		}
		return withSession(cmd, true, func(s *session) error {
			if dir, err := s.store.Directory(initPath); err == nil && hasPasswords(dir) {
				if err := s.unlockFor(cmd, initPath); err != nil {
					return err
				}
			}
			dir, err := s.store.Init(cmd.Context(), initPath, ids)
			if err != nil {
				return err
			}
			eff, err := dir.EffectiveRecipients()
			if err != nil {
				return err
			}
			printSuccess(cmd, "Password store initialized for %s (%s)", strings.Join(eff.Strings(), ", "), dir.Path())
			fmt.Fprintln(cmd.OutOrStdout(), dir.Path())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVarP(&initPath, "path", "p", "/", "subdirectory to initialize")
}
