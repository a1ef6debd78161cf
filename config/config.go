// Package config loads process configuration from the environment.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/spf13/viper"

	"github.com/jacentio/accounts/eventbus"
	"github.com/jacentio/accounts/signup"
	"github.com/jacentio/accounts/store"
)

// Service is the name reported in every log line.
const Service = "user-service"

// Config is the environment of one function.
type Config struct {
	Stage             string        `mapstructure:"stage"`
	Region            string        `mapstructure:"aws_region"`
	TableName         string        `mapstructure:"table_name"`
	IndexName         string        `mapstructure:"gsi1_index"`
	EventBusName      string        `mapstructure:"event_bus_name"`
	LogLevel          string        `mapstructure:"log_level"`
	DynamoDBEndpoint  string        `mapstructure:"dynamodb_endpoint"`
	SignupMaxAttempts uint64        `mapstructure:"signup_max_attempts"`
	SignupBackoffBase time.Duration `mapstructure:"signup_backoff_base"`
}

// Load reads the configuration from environment variables. Every key has a
// default, so an empty environment yields the dev stage settings.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stage", "dev")
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("table_name", "dev-user-service")
	v.SetDefault("gsi1_index", "GSI1")
	v.SetDefault("event_bus_name", "dev-user-service")
	v.SetDefault("log_level", "info")
	v.SetDefault("dynamodb_endpoint", "")
	v.SetDefault("signup_max_attempts", 3)
	v.SetDefault("signup_backoff_base", 100*time.Millisecond)
}

func (c *Config) validate() error {
	if c.TableName == "" {
		return fmt.Errorf("TABLE_NAME must not be empty")
	}
	if c.SignupMaxAttempts == 0 {
		return fmt.Errorf("SIGNUP_MAX_ATTEMPTS must be at least 1")
	}
	if c.SignupBackoffBase <= 0 {
		return fmt.Errorf("SIGNUP_BACKOFF_BASE must be positive")
	}
	return nil
}

// Store returns the table settings.
func (c *Config) Store() store.Config {
	return store.Config{TableName: c.TableName, IndexName: c.IndexName}
}

// EventBus returns the publisher settings.
func (c *Config) EventBus() eventbus.Config {
	return eventbus.Config{BusName: c.EventBusName, Environment: c.Stage}
}

// Signup returns the reconciler retry settings.
func (c *Config) Signup() signup.Config {
	return signup.Config{MaxAttempts: c.SignupMaxAttempts, BackoffBase: c.SignupBackoffBase}
}

// AWS loads the SDK configuration for the configured region.
func AWS(ctx context.Context, c *Config) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// DynamoDB creates a client, honoring DYNAMODB_ENDPOINT when set.
func DynamoDB(awsCfg aws.Config, c *Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if c.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(c.DynamoDBEndpoint)
		}
	})
}

// EventBridge creates a client.
func EventBridge(awsCfg aws.Config) *eventbridge.Client {
	return eventbridge.NewFromConfig(awsCfg)
}
