// Package main is the entry point for the authgate command.
package main

import (
	"os"

	"github.com/sclera-labs/authgate/cmd/authgate/app"
	"github.com/sclera-labs/authgate/pkg/logger"
)

func main() {
	logger.InitializeFromEnv()

	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
