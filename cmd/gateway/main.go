package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/devpulse-io/devpulse/internal/auth"
	"github.com/devpulse-io/devpulse/internal/config"
	"github.com/devpulse-io/devpulse/internal/feed"
	"github.com/devpulse-io/devpulse/internal/handler"
	"github.com/devpulse-io/devpulse/internal/hub"
	"github.com/devpulse-io/devpulse/internal/notify"
	"github.com/devpulse-io/devpulse/internal/sink"
	"github.com/devpulse-io/devpulse/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		st       store.Store
		watcher  store.Watcher
		releaser store.WorkloadReleaser
	)
	switch cfg.StoreMode {
	case "memory":
		log.Println("⚠️ using in-memory session store (development mode)")
		mem := store.NewInMemoryStore()
		st, watcher, releaser = mem, mem, mem
	default:
		ks, err := store.NewKubernetesStore(cfg.Kubeconfig, cfg.KubeNamespace)
		if err != nil {
			log.Fatalf("failed to connect to session store: %v", err)
		}
		st, watcher, releaser = ks, ks, ks
	}

	var gate *auth.Gate
	if cfg.JWKSURL != "" {
		g, err := auth.NewGateWithJWKS(st, cfg.JWKSURL)
		if err != nil {
			log.Fatalf("failed to initialize authorization gate: %v", err)
		}
		gate = g
	} else {
		gate = auth.NewGate(st, cfg.JWTSecret)
	}

	eventHub := hub.New(hub.DefaultQueueSize)

	if cfg.KafkaBrokers != "" {
		mirror := sink.NewKafkaMirror(cfg.KafkaBrokers)
		mirror.Start(ctx)
		eventHub.SetMirror(mirror)
		log.Println("📨 push sink mirror enabled")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ghClient := notify.NewClient(cfg.GitHubAPIURL)
	notifier := notify.NewService(ghClient, redisClient, notify.DefaultCacheTTL)
	notify.NewPoller(notifier, eventHub, notify.DefaultPollInterval).Start(ctx)

	bridge := feed.NewBridge(st, watcher, eventHub)
	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("session change feed stopped: %v", err)
		}
	}()

	if cfg.RabbitURL != "" {
		consumer, err := feed.NewConsumer(cfg.RabbitURL, bridge)
		if err != nil {
			log.Fatalf("failed to connect workload status feed: %v", err)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				log.Printf("workload status feed stopped: %v", err)
			}
		}()
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Request ID middleware
	router.Use(func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("%.8s", uuid.New().String())
		}
		c.Header("X-Request-ID", requestID)
		c.Set("requestID", requestID)
		c.Next()
	})

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.AllowOrigins},
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
	}))

	h := handler.New(gate, eventHub, bridge, notifier, ghClient, releaser)
	h.Register(router)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		// no WriteTimeout: /api/events holds the response open
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("gateway listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gateway server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down gateway...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
