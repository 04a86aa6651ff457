package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ammonit/intake/internal/ingest"
	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/pkg/graphmail"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Poll connected mailboxes and feed documents to the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		auth, tokens, err := initAuthenticator()
		if err != nil {
			return err
		}

		accounts, err := env.Store.ListActiveAccounts(ctx)
		if err != nil {
			return err
		}

		// One Graph session per connected account, built once. Accounts
		// without a saved token are skipped until `intake connect` runs.
		sessions := ingest.NewSessionRegistry()
		rules := make(map[string]model.FilterRule)
		for _, account := range accounts {
			if !tokens.Connected(account.Address) {
				zap.L().Warn("account not connected, skipping",
					zap.String("address", account.Address),
				)
				continue
			}
			source := graphmail.NewRefreshingTokenSource(auth, tokens, account.Address)
			sessions.Register(account.ID, graphmail.NewClient(source,
				graphmail.WithRateLimit(cfg.Graph.RateLimitRPS),
			))
			if rule, ok := filterRuleByName(account.OrdersFilter); ok {
				rules[account.ID] = rule
			}
		}

		ingester := ingest.NewIngester(env.Store, env.Runner, sessions, rules, cfg.Ingest)
		if err := ingester.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

// filterRuleByName resolves the filter name stored on an account. Unknown
// names fall back to the default rule.
func filterRuleByName(name string) (model.FilterRule, bool) {
	switch name {
	case "whole_body_as_document":
		return model.FilterRule{
			Kind:       model.FilterWholeBodyAsDocument,
			Extensions: []string{".pdf"},
		}, true
	case "", "by_attachment_extension":
		return model.FilterRule{}, false
	default:
		zap.L().Warn("unknown orders filter, using default", zap.String("filter", name))
		return model.FilterRule{}, false
	}
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
