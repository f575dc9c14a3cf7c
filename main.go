package main

import (
	"os"

	"orbyt-api/core/logger"
	"orbyt-api/core/server"
)

func main() {
	if err := server.Run(); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}
