package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/netwarden/netwarden/pkg/credential"
	"github.com/netwarden/netwarden/pkg/model"
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage device credentials",
}

var (
	credKind     string
	credUsername string
	credKeyFile  string
)

var credentialSetCmd = &cobra.Command{
	Use:   "set <device-id>",
	Short: "Enroll a credential for a device",
	Long: `Enroll a credential for a device.

The secret is sealed with the key in $` + keyEnv + ` before it is stored;
any previously active credential for the same (device, kind) is rotated
out. The password is read from a hidden prompt.

Examples:
  netwarden credential set dev-lab-01 --kind rest --username admin
  netwarden credential set dev-lab-01 --kind routeros_ssh_key --username admin --key-file ~/.ssh/id_ed25519`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceID := args[0]
		kind := model.CredentialKind(credKind)
		switch kind {
		case model.CredentialREST, model.CredentialSSH, model.CredentialSSHKey:
		default:
			return fmt.Errorf("invalid kind %q (rest, ssh, routeros_ssh_key)", credKind)
		}

		if _, err := db.GetDevice(cmd.Context(), deviceID); err != nil {
			return err
		}

		cipher, err := sealingCipher()
		if err != nil {
			return err
		}

		var password, privateKey []byte
		if kind == model.CredentialSSHKey {
			if credKeyFile == "" {
				return fmt.Errorf("--key-file is required for %s credentials", kind)
			}
			privateKey, err = os.ReadFile(credKeyFile)
			if err != nil {
				return err
			}
		} else {
			fmt.Fprintf(os.Stderr, "Password for %s@%s: ", credUsername, deviceID)
			password, err = term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}
		}

		source := credential.NewSource(db, cipher)
		cred, err := source.Enroll(cmd.Context(), deviceID, kind, credUsername, password, privateKey, "")
		if err != nil {
			return err
		}
		fmt.Printf("Credential %s enrolled for %s (%s)\n", cred.ID, deviceID, kind)
		return nil
	},
}

func init() {
	credentialSetCmd.Flags().StringVar(&credKind, "kind", "rest", "credential kind (rest, ssh, routeros_ssh_key)")
	credentialSetCmd.Flags().StringVar(&credUsername, "username", "", "device username")
	credentialSetCmd.MarkFlagRequired("username")
	credentialSetCmd.Flags().StringVar(&credKeyFile, "key-file", "", "SSH private key file")
	credentialCmd.AddCommand(credentialSetCmd)
}
