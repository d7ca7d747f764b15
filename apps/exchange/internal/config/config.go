package config

import (
	"github.com/joho/godotenv"
	"log"
	"os"
	"strconv"
)

type Config struct {
	DbURL            string
	KafkaBroker      string
	KafkaFillTopic   string
	KafkaIntakeTopic string
	APIPort          int
	LockShards       int
	PublishInterval  int
	PublishBatchSize int
}

// NewConfig loads configuration from environment variables
func NewConfig() *Config {
	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("Could not load .env file: %v", err)
	}

	return &Config{
		DbURL:            getEnvOrFatal("DB_URL"),
		KafkaBroker:      getEnvOrFatal("KAFKA_BROKER"),
		KafkaFillTopic:   getEnvOrFatal("KAFKA_FILL_TOPIC"),
		KafkaIntakeTopic: os.Getenv("KAFKA_INTAKE_TOPIC"),
		APIPort:          getEnvInt("API_PORT", 5002),
		LockShards:       getEnvInt("LOCK_SHARDS", 64),
		PublishInterval:  getEnvInt("PUBLISH_INTERVAL_SECONDS", 3),
		PublishBatchSize: getEnvInt("PUBLISH_BATCH_SIZE", 100),
	}
}

// IntakeEnabled reports whether submissions are also consumed from Kafka.
func (c *Config) IntakeEnabled() bool {
	return c.KafkaIntakeTopic != ""
}

func getEnvOrFatal(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	log.Fatalf("environment variable %s not set", key)

	return ""
}

// getEnvInt falls back to defaultValue for unset, unparsable or non-positive values.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
