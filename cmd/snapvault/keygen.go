// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/backup"
)

func newKeygenCmd(a *app) *cobra.Command {
	var asEnv bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random encryption key",
		Long: `Print a random 32-byte key, hex encoded, for BACKUP_ENCRYPTION_KEY.
Store it outside the backup host: artifacts cannot be decrypted without it
and there is no recovery.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, encoded, err := backup.GenerateKey()
			if err != nil {
				return err
			}
			switch {
			case a.jsonOutput:
				return printJSON(cmd.OutOrStdout(), map[string]string{"key": encoded})
			case asEnv:
				fmt.Fprintf(cmd.OutOrStdout(), "BACKUP_ENCRYPTION_KEY=%s\n", encoded)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), encoded)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asEnv, "env", false, "Print as a BACKUP_ENCRYPTION_KEY= line")
	return cmd
}
