package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ammonit/intake/internal/order"
	"github.com/ammonit/intake/internal/pipeline"
	"github.com/ammonit/intake/internal/registry"
	"github.com/ammonit/intake/internal/store"
	"github.com/ammonit/intake/pkg/anthropic"
	"github.com/ammonit/intake/pkg/graphmail"
)

// env holds the wired service graph shared by the long-running commands.
type env struct {
	Store    store.Store
	Registry *registry.Registry
	Orders   *order.Service
	Runner   *pipeline.Runner
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "intake.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// initPipeline wires the full intake graph: store, registry, order service
// and the staged document pipeline.
func initPipeline(ctx context.Context) (*env, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (INTAKE_ANTHROPIC_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	client := anthropic.NewClient(cfg.Anthropic.Key)
	reg := registry.New(st)
	orders := order.NewService(st, nil)

	runner := pipeline.NewRunner(
		pipeline.NewTranscriber(client, cfg.Anthropic),
		pipeline.NewClassifier(client, cfg.Anthropic),
		pipeline.NewExtractor(client, cfg.Anthropic),
		reg,
		st,
		cfg.Pipeline,
		cfg.Approval,
		pipeline.RunnerOpts{
			Approver:      orders,
			NormalizeOpts: pipeline.NormalizeOptsFromConfig(cfg.Pipeline),
		},
	)

	return &env{
		Store:    st,
		Registry: reg,
		Orders:   orders,
		Runner:   runner,
	}, nil
}

func initAuthenticator() (*graphmail.Authenticator, *graphmail.FileTokenStore, error) {
	if cfg.Graph.ClientID == "" {
		return nil, nil, eris.New("graph client ID is required (INTAKE_GRAPH_CLIENT_ID)")
	}

	auth := graphmail.NewAuthenticator(graphmail.AuthConfig{
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		TenantID:     cfg.Graph.TenantID,
		RedirectURL:  cfg.Graph.RedirectURL,
	})

	tokens, err := graphmail.NewFileTokenStore(cfg.Graph.TokenDir)
	if err != nil {
		return nil, nil, err
	}
	return auth, tokens, nil
}
