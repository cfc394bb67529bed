package main

import (
	"fmt"

	tokenjwt "github.com/dlddu/tiny-oidc/internal/jwt"
	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage token signing keys",
	}

	var (
		dir  string
		bits int
	)
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate an RSA signing key pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := tokenjwt.GenerateKey(bits)
			if err != nil {
				return err
			}
			privPath, pubPath, err := tokenjwt.WriteKeyPair(key, dir)
			if err != nil {
				return err
			}
			kid, err := tokenjwt.KeyID(&key.PublicKey)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "private key: %s\n", privPath)
			fmt.Fprintf(out, "public key:  %s\n", pubPath)
			fmt.Fprintf(out, "kid:         %s\n", kid)
			return nil
		},
	}
	generate.Flags().StringVar(&dir, "dir", "keys", "Directory to write private.pem and public.pem into")
	generate.Flags().IntVar(&bits, "bits", tokenjwt.DefaultKeyBits, "RSA modulus size")

	keys.AddCommand(generate)
	return keys
}
