// Command streams-download logs in to HydroShare and builds a STREAMS archive
// locally, without going through the HTTP API.
//
// Usage:
//
//	streams-download options
//	streams-download download -u alice -g USGS-01234567 \
//	  --start 2020-01-01 --end 2020-12-31 -v pH -d Streamflow -o out.zip
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() // no error if .env doesn't exist

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
