package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the knobs recognized by the task communicator and local launcher.
type Config struct {
	LocalMode              bool
	UmbilicalAddr          string // bind address when LocalMode is false
	ListenerThreadCount    int    // umbilical RPC handler pool size
	InlineExecutorMaxTasks int    // local worker pool size
	SecurityAuthorization  bool
	JWTSecret              string
	EventsAddr             string // bind address for the live launcher event feed
}

// LoadConfig loads configuration from environment variables and .env file.
func LoadConfig() *Config {
	loadDotEnv()

	cfg := &Config{
		LocalMode:              getEnvBool("LOCAL_MODE", false),
		UmbilicalAddr:          getEnv("UMBILICAL_ADDR", "127.0.0.1:0"),
		ListenerThreadCount:    getEnvInt("LISTENER_THREAD_COUNT", 4),
		InlineExecutorMaxTasks: getEnvInt("INLINE_EXECUTOR_MAX_TASKS", 4),
		SecurityAuthorization:  getEnvBool("SECURITY_AUTHORIZATION", false),
		JWTSecret:              getEnv("UMBILICAL_JWT_SECRET", "dev-umbilical-secret"),
		EventsAddr:             getEnv("EVENTS_ADDR", "127.0.0.1:0"),
	}

	if cfg.ListenerThreadCount < 1 {
		log.Printf("Warning: listener-thread-count must be >= 1, got %d, using 1", cfg.ListenerThreadCount)
		cfg.ListenerThreadCount = 1
	}
	if cfg.InlineExecutorMaxTasks < 1 {
		log.Printf("Warning: inline-executor-max-tasks must be >= 1, got %d, using 1", cfg.InlineExecutorMaxTasks)
		cfg.InlineExecutorMaxTasks = 1
	}

	return cfg
}

// loadDotEnv loads environment variables from a .env file, checked at a few
// relative locations so the binary can run from the repo root or a cmd dir.
func loadDotEnv() {
	paths := []string{".env", "../.env", "../../.env"}
	for _, path := range paths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("Loaded .env from %s", path)
			return
		}
	}
	log.Println("No .env file found, using environment variables")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
		log.Printf("Warning: invalid bool value for %s: %s, using fallback %v", key, value, fallback)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
		log.Printf("Warning: invalid int value for %s: %s, using fallback %d", key, value, fallback)
	}
	return fallback
}
