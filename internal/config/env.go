package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	AIAPIKey     string
	EmbedModel   string
	EmbedDim     int
	GenModel     string
	JWTSecret    string
	Port         string
	LogJSON      bool

	// Chunking
	ChunkWindow  int
	ChunkOverlap int

	// Embedding client
	EmbedRetries     int
	EmbedBaseDelay   float64 // seconds
	EmbedMaxChars    int
	EmbedRateLimit   float64 // requests per second, 0 disables the limiter
	EmbedConcurrency int     // concurrent embedding calls per source

	// Relation building
	RelationThreshold float64

	// Retrieval
	TopK             int
	MaxGraphDepth    int
	MaxRelated       int
	SimilarityWeight float64
	RelationWeight   float64
	MaxContextChunks int
	HistoryWindow    int

	// Training worker
	TrainWorkers   int
	TrainQueueSize int
	JobRetries     int
	JobRetryDelay  float64 // seconds

	// Answer streaming
	Temperature           float64
	OptimizeMaxChars      int
	PersistPartialAnswers bool
}

// LoadConfig loads the environment variables and returns the config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "knowbase-docs"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBED_DIM", 768),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		Port:         getEnv("PORT", "8080"),
		LogJSON:      getEnvBool("LOG_JSON", false),

		ChunkWindow:  getEnvInt("CHUNK_WINDOW", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),

		EmbedRetries:     getEnvInt("EMBED_RETRIES", 5),
		EmbedBaseDelay:   getEnvFloat("EMBED_BASE_DELAY", 1.0),
		EmbedMaxChars:    getEnvInt("EMBED_MAX_CHARS", 8191),
		EmbedRateLimit:   getEnvFloat("EMBED_RATE_LIMIT", 0),
		EmbedConcurrency: getEnvInt("EMBED_CONCURRENCY", 4),

		RelationThreshold: getEnvFloat("RELATION_THRESHOLD", 0.7),

		TopK:             getEnvInt("RAG_TOP_K", 5),
		MaxGraphDepth:    getEnvInt("RAG_MAX_DEPTH", 2),
		MaxRelated:       getEnvInt("RAG_MAX_RELATED", 3),
		SimilarityWeight: getEnvFloat("RAG_SIMILARITY_WEIGHT", 0.7),
		RelationWeight:   getEnvFloat("RAG_RELATION_WEIGHT", 0.3),
		MaxContextChunks: getEnvInt("RAG_MAX_CONTEXT_CHUNKS", 15),
		HistoryWindow:    getEnvInt("RAG_HISTORY_WINDOW", 20),

		TrainWorkers:   getEnvInt("TRAIN_WORKERS", 2),
		TrainQueueSize: getEnvInt("TRAIN_QUEUE_SIZE", 64),
		JobRetries:     getEnvInt("JOB_RETRIES", 3),
		JobRetryDelay:  getEnvFloat("JOB_RETRY_DELAY", 5.0),

		Temperature:           getEnvFloat("GEN_TEMPERATURE", 0.4),
		OptimizeMaxChars:      getEnvInt("OPTIMIZE_MAX_CHARS", 300),
		PersistPartialAnswers: getEnvBool("PERSIST_PARTIAL_ANSWERS", false),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}
	if cfg.ChunkOverlap >= cfg.ChunkWindow {
		log.Fatalf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_WINDOW (%d)", cfg.ChunkOverlap, cfg.ChunkWindow)
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a float, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}
