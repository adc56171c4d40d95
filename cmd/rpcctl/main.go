// Command rpcctl is a small CLI client for a running rpcd server, exercised
// through internal/rpcclient the same way an application frontend would.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/oriys/reactiverpc/internal/rpcclient"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rpcctl",
		Short: "call actions on a reactiverpc server",
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "http://localhost:8080", "server base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token (optional)")

	rootCmd.AddCommand(execCmd(), whoamiCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient(ctx context.Context) (*rpcclient.Client, error) {
	c := rpcclient.New(serverURL)
	if authToken == "" {
		return c, nil
	}
	ok, err := c.Login(ctx, authToken)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("login rejected by server")
	}
	return c, nil
}

func execCmd() *cobra.Command {
	var payload string

	cmd := &cobra.Command{
		Use:   "exec <action>",
		Short: "call an action with a JSON-encoded input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			c, err := newClient(ctx)
			if err != nil {
				return err
			}

			var input map[string]any
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &input); err != nil {
					return fmt.Errorf("invalid --payload JSON: %w", err)
				}
			} else {
				input = map[string]any{}
			}

			out, err := rpcclient.Exec[map[string]any, map[string]any](c, ctx, args[0], input)
			if err != nil {
				return err
			}

			enc, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(enc))
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "JSON-encoded input object")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "call auth/whoami with the configured token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			c, err := newClient(ctx)
			if err != nil {
				return err
			}

			out, err := rpcclient.Exec[map[string]any, map[string]any](c, ctx, "auth/whoami", map[string]any{})
			if err != nil {
				return err
			}

			enc, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(enc))
			return nil
		},
	}
}
