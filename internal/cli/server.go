package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/st3v3lyrious/quiznetic/internal/app"
	"github.com/st3v3lyrious/quiznetic/internal/config"
	"github.com/st3v3lyrious/quiznetic/internal/infra/memory"
	infrapg "github.com/st3v3lyrious/quiznetic/internal/infra/postgres"
	infraredis "github.com/st3v3lyrious/quiznetic/internal/infra/redis"
	"github.com/st3v3lyrious/quiznetic/internal/policy"
	"github.com/st3v3lyrious/quiznetic/internal/store"
	transport "github.com/st3v3lyrious/quiznetic/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the score-submission server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	// Backend precedence: postgres, then redis, then in-memory.
	var docStore store.Store
	switch {
	case cfg.Postgres.URL != "":
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		docStore = infrapg.NewStore(pool)
		log.Printf("using postgres document store")
	case cfg.Redis.Addr != "":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		docStore = infraredis.NewStore(client)
		log.Printf("using redis document store")
	default:
		docStore = memory.NewStore()
		log.Printf("using in-memory document store")
	}

	// The server holds the trusted system handle; the ruleset still
	// guards any handle bound to a client principal.
	docStore = policy.Bind(docStore, policy.DefaultRules(), policy.SystemAccess)

	boardTTL := config.TTLDuration(cfg.Leaderboard.CacheTTL, 30*time.Second)
	board := app.NewLeaderboardHub(docStore, boardTTL)
	service := app.NewScoreService(docStore, board)
	handler := transport.NewHandler(service, board)
	wsHandler := transport.NewWSHandler(board)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/scores", handler.SubmitScore)
	mux.HandleFunc("/v1/leaderboard/", handler.Leaderboard)
	mux.HandleFunc("/ws/leaderboard", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting score service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
