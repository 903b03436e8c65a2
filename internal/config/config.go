// Package config loads the evaluation worker's configuration from
// environment variables, optionally bootstrapped from AWS Secrets Manager.
// Grounded on the reference platform's internal/config.Config/Load.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Config holds all configuration for the evaluation worker.
type Config struct {
	LogLevel string

	// Coordinator
	CoordinatorJobsURL        string // pending jobs listing, e.g. https://host/api/jobs/
	CoordinatorSubmissionsURL string // paginated submissions listing for bulk prefetch
	CoordinatorUsername       string
	CoordinatorPassword       string
	CoordinatorInsecureTLS    bool

	// Watcher
	PollInterval  time.Duration
	BatchWidth    int
	EndMaxRetries int
	EndRetryDelay time.Duration

	// Sandbox backend
	SandboxBackend     string // "container" or "venv"
	ContainerBinary    string // "docker" or "podman"
	VenvBaseDir        string
	VenvJailed         bool
	DefaultPythonImage string

	// Phase timeouts
	PullTimeLimit  time.Duration
	SetupTimeLimit time.Duration

	// Local storage
	AgentsPath    string
	SuitesPath    string
	OutputRoot    string
	RunnerKitPath string

	// Redis heartbeat (optional; empty disables it)
	RedisURL string
	WorkerID string

	// NATS job-lifecycle events (optional; empty disables it)
	NATSURL string

	// Metrics
	MetricsAddr string

	// AWS Secrets Manager — if set, secrets are fetched at startup using IAM
	// credentials. Env vars take precedence over secret values.
	SecretsARN string
}

// Load reads configuration from environment variables with sensible
// defaults. If EVALWORKER_SECRETS_ARN is set, secrets are fetched from AWS
// Secrets Manager first, then environment variables are applied on top.
func Load() (*Config, error) {
	if arn := os.Getenv("EVALWORKER_SECRETS_ARN"); arn != "" {
		if err := loadSecretsManager(arn); err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", arn, err)
		}
	}

	cfg := &Config{
		LogLevel: envOrDefault("EVALWORKER_LOG_LEVEL", "info"),

		CoordinatorJobsURL:        envOrDefault("EVALWORKER_COORDINATOR_JOBS_URL", "http://localhost:8000/api/jobs/"),
		CoordinatorSubmissionsURL: os.Getenv("EVALWORKER_COORDINATOR_SUBMISSIONS_URL"),
		CoordinatorUsername:       os.Getenv("EVALWORKER_COORDINATOR_USERNAME"),
		CoordinatorPassword:       os.Getenv("EVALWORKER_COORDINATOR_PASSWORD"),
		CoordinatorInsecureTLS:    os.Getenv("EVALWORKER_COORDINATOR_INSECURE_TLS") == "true",

		PollInterval:  envOrDefaultDuration("EVALWORKER_POLL_INTERVAL", 10*time.Second),
		BatchWidth:    envOrDefaultInt("EVALWORKER_BATCH_WIDTH", 1),
		EndMaxRetries: envOrDefaultInt("EVALWORKER_END_MAX_RETRIES", 3),
		EndRetryDelay: envOrDefaultDuration("EVALWORKER_END_RETRY_DELAY", 10*time.Second),

		SandboxBackend:     envOrDefault("EVALWORKER_SANDBOX_BACKEND", "container"),
		ContainerBinary:    envOrDefault("EVALWORKER_CONTAINER_BINARY", "docker"),
		VenvBaseDir:        envOrDefault("EVALWORKER_VENV_BASE_DIR", "/var/lib/evalworker/venv"),
		VenvJailed:         os.Getenv("EVALWORKER_VENV_JAILED") == "true",
		DefaultPythonImage: envOrDefault("EVALWORKER_DEFAULT_PYTHON_IMAGE", "python:3.10-slim"),

		PullTimeLimit:  envOrDefaultDuration("EVALWORKER_PULL_TIME_LIMIT", 5*time.Minute),
		SetupTimeLimit: envOrDefaultDuration("EVALWORKER_SETUP_TIME_LIMIT", 5*time.Minute),

		AgentsPath:    envOrDefault("EVALWORKER_AGENTS_PATH", "/var/lib/evalworker/agents"),
		SuitesPath:    envOrDefault("EVALWORKER_SUITES_PATH", "/var/lib/evalworker/suites"),
		OutputRoot:    envOrDefault("EVALWORKER_OUTPUT_ROOT", "/var/lib/evalworker/outputs"),
		RunnerKitPath: envOrDefault("EVALWORKER_RUNNER_KIT_PATH", "/var/lib/evalworker/runner"),

		RedisURL: os.Getenv("EVALWORKER_REDIS_URL"),
		WorkerID: envOrDefault("EVALWORKER_WORKER_ID", "w-local-1"),

		NATSURL: os.Getenv("EVALWORKER_NATS_URL"),

		MetricsAddr: envOrDefault("EVALWORKER_METRICS_ADDR", ":9091"),

		SecretsARN: os.Getenv("EVALWORKER_SECRETS_ARN"),
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

// loadSecretsManager fetches a JSON secret from AWS Secrets Manager and sets
// any values as environment variables (only if not already set, so explicit
// env vars always win). Uses the default AWS credential chain unless
// EVALWORKER_AWS_ACCESS_KEY_ID and EVALWORKER_AWS_SECRET_ACCESS_KEY are both
// set, in which case those static keys are used.
func loadSecretsManager(arn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var opts []func(*awsconfig.LoadOptions) error
	if parts := strings.Split(arn, ":"); len(parts) >= 4 && parts[3] != "" {
		opts = append(opts, awsconfig.WithRegion(parts[3]))
	}
	// Explicit static keys are the exception, not the default — only used
	// when the operator can't rely on an instance/task role, matching the
	// access-key override the teacher offers for its own S3/EC2/ECR clients.
	if ak, sk := os.Getenv("EVALWORKER_AWS_ACCESS_KEY_ID"), os.Getenv("EVALWORKER_AWS_SECRET_ACCESS_KEY"); ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return fmt.Errorf("GetSecretValue: %w", err)
	}

	if result.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", arn)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return fmt.Errorf("parse secret JSON: %w", err)
	}

	applied := 0
	for key, value := range secrets {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			applied++
		}
	}

	log.Printf("config: loaded %d secrets from Secrets Manager (%d keys in secret, env overrides take precedence)", applied, len(secrets))
	return nil
}
