package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func newKeysCmd() *cobra.Command {
	var hashSecret string

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate SESSION_HASH_KEY/SESSION_BLOCK_KEY values and hash the cancel secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if hashSecret != "" {
				h, err := bcrypt.GenerateFromPassword([]byte(hashSecret), bcrypt.DefaultCost)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "export CANCEL_SECRET_HASH='%s'\n", string(h))
				return nil
			}

			hash := make([]byte, 32)
			block := make([]byte, 32)
			if _, err := rand.Read(hash); err != nil {
				return err
			}
			if _, err := rand.Read(block); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "export SESSION_HASH_KEY=%s\n", base64.StdEncoding.EncodeToString(hash))
			fmt.Fprintf(os.Stdout, "export SESSION_BLOCK_KEY=%s\n", base64.StdEncoding.EncodeToString(block))
			return nil
		},
	}

	cmd.Flags().StringVar(&hashSecret, "hash-secret", "", "print a bcrypt hash for the given cancel secret instead")
	return cmd
}
