/*
* Copyright (c) 2026-present unTill Software Development Group B.V.
 */

package main

import (
	"os"

	"github.com/voedger/reactord/pkg/goutils/cobrau"
	"github.com/voedger/reactord/pkg/goutils/logger"
)

// version is set at release time by the build's -ldflags; "dev" is
// what every local `go run` sees.
var version = "dev"

func main() {
	if err := execRootCmd(os.Args, version); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func execRootCmd(args []string, ver string) error {
	rootCmd := cobrau.PrepareRootCmd(
		"reactord",
		"Reactive document server: publish/subscribe over WebSocket with live query updates",
		args,
		ver,
		newServeCmd(),
	)
	return cobrau.ExecCommandAndCatchInterrupt(rootCmd)
}
