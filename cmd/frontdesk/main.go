package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/tillberg/autorestart"

	"github.com/mvail/frontdesk/internal/cli"
)

func main() {
	// Credentials like GEMINI_API_KEY and PLIVO_AUTH_TOKEN may live in a
	// local .env during development; a missing file is fine.
	godotenv.Load()

	go autorestart.RestartOnChange()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
