package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         string
	AllowOrigins string

	// Token verification. When JWKSURL is set RS256 tokens are verified
	// against the identity provider's key set; otherwise JWTSecret is
	// used for HS256.
	JWTSecret string
	JWKSURL   string

	RedisAddr string

	// Authoritative store. StoreMode "memory" runs without a cluster
	// (local development only).
	StoreMode     string
	KubeNamespace string
	Kubeconfig    string

	// Workload status feed. Empty disables the consumer.
	RabbitURL string

	// Downstream push sink. Empty disables the mirror.
	KafkaBrokers string

	GitHubAPIURL string
}

func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		AllowOrigins:  getEnv("ALLOWED_ORIGINS", "http://localhost:5173"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		JWKSURL:       os.Getenv("JWKS_URL"),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		StoreMode:     getEnv("STORE_MODE", "kubernetes"),
		KubeNamespace: getEnv("KUBE_NAMESPACE", "devpulse-sessions"),
		Kubeconfig:    os.Getenv("KUBECONFIG"),
		RabbitURL:     os.Getenv("RABBITMQ_URL"),
		KafkaBrokers:  os.Getenv("KAFKA_BROKERS"),
		GitHubAPIURL:  getEnv("GITHUB_API_URL", "https://api.github.com"),
	}

	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		log.Fatal("either JWT_SECRET or JWKS_URL is required")
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if fallback == "" {
		log.Fatalf("%s environment variable is required", key)
	}
	return fallback
}
