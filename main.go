package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	setupEnvironment()
	log.Debug().Msg("Starting application")

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(reportError(root.ErrOrStderr(), err))
	}
}
