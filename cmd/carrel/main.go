package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/carrel/catalog"
	"github.com/jacentio/carrel/httpapi"
	"github.com/jacentio/carrel/internal/config"
	"github.com/jacentio/carrel/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	st := store.New(dynamodb.NewFromConfig(awsCfg), store.Config{
		ByBookIndex:   cfg.ByBookIndex,
		MaxTxAttempts: cfg.MaxTxAttempts,
	})
	engine := catalog.NewEngine(st, logger)
	handler := httpapi.NewHandler(engine, logger)
	router := httpapi.NewRouter(handler)

	logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
