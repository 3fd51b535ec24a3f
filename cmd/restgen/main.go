// Command restgen emits rest descriptors and adapter types for annotated
// interfaces.
//
//	restgen [--output file] [--swagger] [packages]
package main

import (
	"context"
	"os"

	"github.com/T-Prohmpossadhorn/go-rest/logger"
)

func main() {
	if err := logger.Init(); err != nil {
		logger.Warn(context.Background(), "Using default logger", logger.Err(err))
	}

	err := newRootCmd().Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
