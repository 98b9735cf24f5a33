package main

import (
	"github.com/joho/godotenv"

	"pdfrag/internal/cli"
)

func main() {
	// API keys may live in a local .env file; absence is fine.
	_ = godotenv.Load()

	cli.Execute()
}
