// Command signup is the Cognito post-confirmation trigger.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/accounts/config"
	"github.com/jacentio/accounts/eventbus"
	"github.com/jacentio/accounts/logging"
	"github.com/jacentio/accounts/signup"
	"github.com/jacentio/accounts/store"
	"github.com/jacentio/accounts/users"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logging.New("error", config.Service, "unknown").Error("load config", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, config.Service, cfg.Stage)

	awsCfg, err := config.AWS(ctx, cfg)
	if err != nil {
		log.Error("load aws config", "error", err)
		os.Exit(1)
	}

	repo := users.NewRepository(store.New(config.DynamoDB(awsCfg, cfg), cfg.Store()))
	publisher := eventbus.New(config.EventBridge(awsCfg), cfg.EventBus())
	reconciler := signup.New(repo, publisher, cfg.Signup(), signup.WithLogger(log))

	lambda.Start(reconciler.Handle)
}
