package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey     string
	DatabaseURL      string
	HTTPPort         string
	LogLevel         string
	JWTSecret        string
	JWTTTLHours      int
	N8nWebhookURL    string
	N8nWebhookSecret string
	StartingCredits  int
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:      getEnv("DATABASE_URL", "creditwise.db"),
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTTTLHours:      getEnvAsInt("JWT_TTL_HOURS", 24),
		N8nWebhookURL:    getEnv("N8N_WEBHOOK_URL", ""),
		N8nWebhookSecret: getEnv("N8N_WEBHOOK_SECRET", ""),
		StartingCredits:  getEnvAsInt("STARTING_CREDITS", 100),
	}

	if AppConfig.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable is required")
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	// N8N_WEBHOOK_URL is optional: without it the server runs in fallback mode
	// and the chat executor stays on the local interpreter.
	if AppConfig.N8nWebhookURL == "" {
		log.Println("N8N_WEBHOOK_URL not set, orchestrator disabled (fallback mode)")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
