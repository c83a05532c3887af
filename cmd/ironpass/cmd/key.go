package cmd

import (
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironpass/crypto"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the keys passwords are encrypted to",
}

var keyArmor bool

var keyGenerateCmd = &cobra.Command{
	Use:   "generate name",
	Short: "Generate a key pair locked with a passphrase",
	Args:  requireArgs(1, "name"),
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := readNewSecret(cmd, "Passphrase for the new key: ", "Retype passphrase: ")
		if err != nil {
			return err
		}
		if pass == "" {
			return fmt.Errorf("empty passphrase")
		}
		pub, locked, err := crypto.GenerateKey(args[0], pass)
		if err != nil {
			return err
		}
		return withSession(cmd, false, func(s *session) error {
			if err := s.store.ImportPrivateKey(locked); err != nil {
				return err
			}
			printSuccess(cmd, "Generated key %s for %s", pub.ShortID(), pub.Name)
			if keyArmor {
				armored, err := crypto.ArmorPublicKey(pub)
				if err != nil {
					return err
				}
				cmd.OutOrStdout().Write(armored)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), pub.Fingerprint())
			return nil
		})
	},
}

var keyImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import armored public or locked private keys",
	Long:  `Reads armored key blocks from file, or from stdin when file is omitted or "-".`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if len(args) == 0 || args[0] == "-" {
			data, err = readAll()
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return err
		}
		return withSession(cmd, false, func(s *session) error {
			ids, err := s.store.ImportArmored(data)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			printSuccess(cmd, "Imported %d key(s)", len(ids))
			return nil
		})
	},
}

var keyExportCmd = &cobra.Command{
	Use:   "export key-id",
	Short: "Print the armored public key",
	Args:  requireArgs(1, "key-id"),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(s *session) error {
			pub, err := s.store.Keyring().Lookup(crypto.KeyID(args[0]))
			if err != nil {
				return err
			}
			armored, err := crypto.ArmorPublicKey(pub)
			if err != nil {
				return err
			}
			cmd.OutOrStdout().Write(armored)
			return nil
		})
	},
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(s *session) error {
			root := s.store.KeyIDs()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FINGERPRINT\tNAME\tPRIVATE\tROOT")
			for _, pub := range s.store.Keyring().List() {
				fp := pub.Fingerprint()
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", fp, pub.Name,
					yesNo(s.store.Keyring().HasPrivate(fp)), yesNo(slices.ContainsFunc(root, func(id crypto.KeyID) bool { return id.Matches(fp) })))
			}
			return w.Flush()
		})
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return paint(mutedColor, "no")
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyGenerateCmd, keyImportCmd, keyExportCmd, keyListCmd)
	keyGenerateCmd.Flags().BoolVar(&keyArmor, "armor", false, "print the armored public key instead of the fingerprint")
}
