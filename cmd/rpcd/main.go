// Command rpcd runs the RPC server: a POST /exec/<action> action host
// backed by appstorage-persisted items and a substring searcher over them.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/reactiverpc/internal/appstorage"
	"github.com/oriys/reactiverpc/internal/auth"
	"github.com/oriys/reactiverpc/internal/config"
	"github.com/oriys/reactiverpc/internal/logging"
	"github.com/oriys/reactiverpc/internal/observability"
	"github.com/oriys/reactiverpc/internal/rpcschema"
	"github.com/oriys/reactiverpc/internal/rpcserver"
	"github.com/oriys/reactiverpc/internal/searcher"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "rpcd",
		Short: "reactiverpc server - hosts RPC actions over a binary msgpack envelope",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				loaded, err := config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			config.LoadFromEnv(cfg)
			if cmd.Flags().Changed("http") {
				cfg.Server.HTTPAddr = httpAddr
			}

			logging.SetLevelFromString(cfg.Server.LogLevel)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			ctx := context.Background()
			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			backend, err := appstorage.NewPostgresBackend(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer backend.Close()

			items := appstorage.GetInstance[map[string]any](ctx, "items", backend, appstorage.Config{
				RefreshInterval: cfg.Appstorage.RefreshInterval,
				FlushDebounce:   cfg.Appstorage.FlushDebounce,
			})
			defer items.Stop()

			docSearcher := searcher.New[appstorage.ItemData[map[string]any]]()
			rebuildSearcher := func() {
				list := items.List()
				docs := make([]searcher.Document[appstorage.ItemData[map[string]any]], 0, len(list))
				for _, it := range list {
					docs = append(docs, searcher.Document[appstorage.ItemData[map[string]any]]{
						Queries: queryStringsFor(it),
						Doc:     it,
					})
				}
				docSearcher.UpdateData(docs)
			}

			// Subscribed to the appstorage index instead of polled: a new key
			// resyncs which items are watched, and each watched item's own
			// cell feeds content edits back into the searcher.
			itemUnsubs := make(map[string]func())
			syncSearcherSubscriptions := func(idx map[string]*appstorage.Item[map[string]any]) {
				for key, unsub := range itemUnsubs {
					if _, ok := idx[key]; !ok {
						unsub()
						delete(itemUnsubs, key)
					}
				}
				for key, it := range idx {
					if _, ok := itemUnsubs[key]; !ok {
						itemUnsubs[key] = it.Subscribe(func(appstorage.ItemData[map[string]any]) {
							rebuildSearcher()
						})
					}
				}
				rebuildSearcher()
			}
			syncSearcherSubscriptions(items.Index().Value())
			items.Index().Subscribe(syncSearcherSubscriptions)

			resolver := buildResolver(cfg.Auth)

			srv := rpcserver.New(resolver)
			srv.SetGetMetrics(func() map[string]float64 {
				return map[string]float64{"items_count": float64(len(items.List()))}
			})

			registerActions(srv, items, docSearcher)

			handler := observability.HTTPMiddleware(srv)
			httpServer := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: handler}

			errCh := make(chan error, 1)
			go func() {
				logging.Op().Info("rpcd listening", "addr", cfg.Server.HTTPAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
				logging.Op().Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (overrides config)")
	return cmd
}

func buildResolver(cfg config.AuthConfig) auth.Resolver {
	var chain auth.ChainResolver
	if cfg.JWT.Enabled {
		r, err := auth.NewJWTResolver(auth.JWTConfig{
			Algorithm:     cfg.JWT.Algorithm,
			Secret:        cfg.JWT.Secret,
			PublicKeyFile: cfg.JWT.PublicKeyFile,
			Issuer:        cfg.JWT.Issuer,
		})
		if err != nil {
			logging.Op().Warn("jwt resolver disabled", "err", err)
		} else {
			chain = append(chain, r)
		}
	}
	if cfg.APIKeys.Enabled {
		var keys []auth.StaticKeyConfig
		for _, k := range cfg.APIKeys.StaticKeys {
			keys = append(keys, auth.StaticKeyConfig{Name: k.Name, Key: k.Key, Tier: k.Tier})
		}
		chain = append(chain, auth.NewAPIKeyResolver(auth.APIKeyResolverConfig{StaticKeys: keys}))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

func registerActions(
	srv *rpcserver.Server,
	items *appstorage.Storage[map[string]any],
	docSearcher *searcher.Searcher[appstorage.ItemData[map[string]any]],
) {
	srv.Register("auth/whoami", nil, true, func(ctx context.Context, input map[string]any, user *auth.User) (any, error) {
		return map[string]any{"subject": user.Subject, "tier": user.Tier}, nil
	})

	srv.Register("items/list", nil, false, func(ctx context.Context, input map[string]any, user *auth.User) (any, error) {
		return items.List(), nil
	})

	srv.Register("items/search", nil, false, func(ctx context.Context, input map[string]any, user *auth.User) (any, error) {
		q, _ := input["q"].(string)
		return docSearcher.Query(q), nil
	})

	putSchema := rpcschema.Schema{
		"type":     "object",
		"required": []any{"key", "data"},
		"properties": map[string]any{
			"key": map[string]any{"type": "string", "minLength": float64(1)},
		},
	}
	srv.Register("items/put", putSchema, true, func(ctx context.Context, input map[string]any, user *auth.User) (any, error) {
		key, _ := input["key"].(string)
		data, _ := input["data"].(map[string]any)
		item := items.Put(key, data)
		return item.Get(), nil
	})

	deleteSchema := rpcschema.Schema{"type": "object", "required": []any{"key"}}
	srv.Register("items/delete", deleteSchema, true, func(ctx context.Context, input map[string]any, user *auth.User) (any, error) {
		key, _ := input["key"].(string)
		items.Delete(key)
		return nil, nil
	})
}

func queryStringsFor(it appstorage.ItemData[map[string]any]) []string {
	out := []string{it.Key}
	for _, v := range it.Data {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
