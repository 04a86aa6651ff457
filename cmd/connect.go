package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var connectAddress string

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect a mailbox via the Microsoft identity platform",
	Long:  "Prints the consent URL for the mailbox owner, reads the redirect code back and stores the resulting token. Run once per account; the ingester refreshes tokens from then on.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		auth, tokens, err := initAuthenticator()
		if err != nil {
			return err
		}

		state := uuid.NewString()
		fmt.Println("Open this URL in a browser and sign in as the mailbox owner:")
		fmt.Println()
		fmt.Println("  " + auth.AuthorizationURL(state))
		fmt.Println()
		fmt.Print("Paste the code from the redirect URL: ")

		reader := bufio.NewReader(os.Stdin)
		code, err := reader.ReadString('\n')
		if err != nil {
			return eris.Wrap(err, "read code")
		}
		code = strings.TrimSpace(code)
		if code == "" {
			return eris.New("empty code")
		}

		tok, err := auth.ExchangeCode(ctx, code)
		if err != nil {
			return err
		}
		if err := tokens.Save(connectAddress, tok); err != nil {
			return err
		}

		zap.L().Info("mailbox connected", zap.String("address", connectAddress))
		fmt.Printf("connected %s\n", connectAddress)
		return nil
	},
}

func init() {
	connectCmd.Flags().StringVar(&connectAddress, "address", "", "mailbox address to connect (required)")
	connectCmd.MarkFlagRequired("address")
	rootCmd.AddCommand(connectCmd)
}
