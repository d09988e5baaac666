package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/layer-3/otpwallet/adapters/chain"
	"github.com/layer-3/otpwallet/adapters/events"
	"github.com/layer-3/otpwallet/adapters/store"
	"github.com/layer-3/otpwallet/adapters/tokenizer"
	"github.com/layer-3/otpwallet/adapters/verification"
	"github.com/layer-3/otpwallet/config"
	"github.com/layer-3/otpwallet/ports"
	"github.com/layer-3/otpwallet/service"
	transport "github.com/layer-3/otpwallet/transport/http"
)

var serveFlags struct {
	addr     string
	store    string
	events   string
	logLevel string
	rpcURL   string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wallet HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.HTTPAddr = serveFlags.addr
		}
		if flags.Changed("store") {
			cfg.Store = serveFlags.store
		}
		if flags.Changed("events") {
			cfg.Events = serveFlags.events
		}
		if flags.Changed("log-level") {
			cfg.LogLevel = serveFlags.logLevel
		}
		if flags.Changed("rpc-url") {
			cfg.RPCURL = serveFlags.rpcURL
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		if err := setupLogger(cfg.LogLevel); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", ":9000", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveFlags.store, "store", config.StoreMemory, "Session store: memory, bolt or redis")
	serveCmd.Flags().StringVar(&serveFlags.events, "events", config.EventsNone, "Event backend: none, memory or redis")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveFlags.rpcURL, "rpc-url", "", "Ethereum JSON-RPC endpoint")
}

func setupLogger(level string) error {
	lvl, err := log.LvlFromString(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
	return nil
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := log.New("module", "main")

	var redisClient *redis.Client
	if cfg.Store == config.StoreRedis || cfg.Events == config.EventsRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	sessions, closeStore, err := openStore(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeStore()
	if rs, ok := sessions.(*store.RedisStore); ok {
		if err := rs.EnableExpiryNotifications(ctx); err != nil {
			logger.Warn("Session expiry will not be observed", "err", err)
		}
	}

	publisher, err := openEvents(cfg, redisClient)
	if err != nil {
		return err
	}
	var eventPub ports.EventPublisher = events.NopPublisher{}
	if publisher != nil {
		defer publisher.Close()
		eventPub = events.NewWatermillPublisher(publisher)
	}

	ethClient, rpc, err := chain.Dial(ctx, cfg.RPCURL, cfg.ChainID)
	if err != nil {
		return err
	}
	defer rpc.Close()
	if remote, err := rpc.ChainID(ctx); err != nil {
		logger.Warn("Could not query chain id", "err", err)
	} else if remote.Int64() != cfg.ChainID {
		return fmt.Errorf("rpc endpoint serves chain %d, configured %d", remote.Int64(), cfg.ChainID)
	}

	signKey, err := loadSigningKey(cfg.SigningKeyFile)
	if err != nil {
		return err
	}
	if cfg.SigningKeyFile == "" {
		logger.Warn("No signing key configured, session tokens will not survive a restart")
	}
	tokens := tokenizer.NewJWTTokenizer(signKey, cfg.SessionTTL)

	verifier := verification.NewHTTPClient(cfg.VerificationURL, cfg.EnvironmentID, cfg.VerifyPath, nil)
	flowOpts := []service.Option{
		service.WithSettings(cfg.Settings()),
		service.WithEvents(eventPub),
	}
	if cfg.VerifyPath != "" {
		flowOpts = append(flowOpts, service.WithCodeVerifier(verifier))
	}
	flow := service.NewAuthFlow(verifier, sessions, chain.KeyGenerator{}, tokens, flowOpts...)
	defer flow.Close()

	restored, err := flow.Restore(ctx)
	if err != nil {
		return err
	}
	if restored {
		logger.Info("Restored existing session")
	}

	pipeline := service.NewTransactionPipeline(sessions, ethClient,
		service.WithNetwork(cfg.Network()),
		service.WithPipelineEvents(eventPub),
	)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if err := flow.FollowPresence(watchCtx); err != nil {
		return err
	}

	if cfg.LogLevel != "debug" && cfg.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := transport.SetupRouter(transport.NewHandlers(flow, pipeline, sessions), tokens, sessions)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()
	logger.Info("Server started", "addr", cfg.HTTPAddr, "network", cfg.Network().Display(), "store", cfg.Store, "events", cfg.Events)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}

func openStore(cfg config.Config, redisClient *redis.Client) (ports.SessionStore, func(), error) {
	switch cfg.Store {
	case config.StoreBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := store.NewBoltStoreFromFile(cfg.BoltPath, nil)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoreRedis:
		return store.NewRedisStore(redisClient, cfg.SessionTTL), func() {}, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

func openEvents(cfg config.Config, redisClient *redis.Client) (message.Publisher, error) {
	wmLogger := watermill.NewStdLogger(false, false)

	switch cfg.Events {
	case config.EventsMemory:
		return gochannel.NewGoChannel(gochannel.Config{}, wmLogger), nil
	case config.EventsRedis:
		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis publisher: %w", err)
		}
		return publisher, nil
	default:
		return nil, nil
	}
}

func loadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return key, nil
}
