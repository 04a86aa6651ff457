package main

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ammonit/intake/internal/config"
	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/internal/order"
	"github.com/ammonit/intake/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the order API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newOrderMux(env.Store, env.Orders, cfg.Server),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// tokenIssuer holds the bearer tokens issued to authenticated bridge
// processes for the lifetime of the server.
type tokenIssuer struct {
	mu     sync.Mutex
	issued map[string]struct{}
}

func newTokenIssuer() *tokenIssuer {
	return &tokenIssuer{issued: make(map[string]struct{})}
}

func (t *tokenIssuer) issue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", eris.Wrap(err, "generate token")
	}
	tok := hex.EncodeToString(buf)

	t.mu.Lock()
	t.issued[tok] = struct{}{}
	t.mu.Unlock()
	return tok, nil
}

func (t *tokenIssuer) valid(tok string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.issued[tok]
	return ok
}

// newOrderMux builds the order API surface consumed by the bridge: password
// grant token issuance, list-by-state and outcome recording, plus a manual
// approval route for operators.
func newOrderMux(st store.Store, orders *order.Service, creds config.ServerConfig) *http.ServeMux {
	issuer := newTokenIssuer()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, `{"error":"invalid form body"}`, http.StatusBadRequest)
			return
		}
		if r.PostFormValue("grant_type") != "password" {
			http.Error(w, `{"error":"unsupported grant type"}`, http.StatusBadRequest)
			return
		}
		user := r.PostFormValue("username")
		pass := r.PostFormValue("password")
		if subtle.ConstantTimeCompare([]byte(user), []byte(creds.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(creds.Password)) != 1 {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}

		tok, err := issuer.issue()
		if err != nil {
			zap.L().Error("token issue failed", zap.Error(err))
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": tok,
			"token_type":   "bearer",
		})
	})

	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !issuer.valid(tok) {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("GET /orders", authed(func(w http.ResponseWriter, r *http.Request) {
		filter := store.OrderFilter{
			State: model.OrderState(r.URL.Query().Get("state")),
		}
		list, err := st.ListOrders(r.Context(), filter)
		if err != nil {
			zap.L().Error("list orders failed", zap.Error(err))
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}))

	mux.HandleFunc("POST /orders/{id}/approve", authed(func(w http.ResponseWriter, r *http.Request) {
		ord, err := orders.Approve(r.Context(), r.PathValue("id"))
		if err != nil {
			writeOrderError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ord)
	}))

	mux.HandleFunc("POST /orders/{id}/outcome", authed(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Outcome string `json:"outcome"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		ord, err := orders.RecordIntegrationOutcome(r.Context(), r.PathValue("id"), model.OrderState(req.Outcome))
		if err != nil {
			writeOrderError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ord)
	}))

	return mux
}

func writeOrderError(w http.ResponseWriter, err error) {
	var illegal *order.IllegalTransitionError
	switch {
	case eris.Is(err, store.ErrNotFound):
		http.Error(w, `{"error":"order not found"}`, http.StatusNotFound)
	case errors.As(err, &illegal):
		http.Error(w, fmt.Sprintf(`{"error":%q}`, illegal.Error()), http.StatusConflict)
	default:
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
