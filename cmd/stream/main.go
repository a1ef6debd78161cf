// Command stream publishes status changes from the table's stream.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/accounts/config"
	"github.com/jacentio/accounts/eventbus"
	"github.com/jacentio/accounts/logging"
	"github.com/jacentio/accounts/stream"
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

	publisher := eventbus.New(config.EventBridge(awsCfg), cfg.EventBus())
	handler := stream.NewHandler(publisher, log)

	lambda.Start(handler.HandleStatusChanges)
}
