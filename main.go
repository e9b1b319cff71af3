package main

import (
	"context"
	"log/slog"
	"os"
)

// App is the process-wide application instance, set up in initApp and
// populated further by the cli Before hook once flags are parsed.
var App *HarvesterApp

func main() {
	App = initApp()

	err := App.cliCmd.Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("Error", "msg", err)
		os.Exit(1)
	}
}
