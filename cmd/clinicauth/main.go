package main

import (
	"errors"
	"os"

	"github.com/platinummonkey/clinicauth/pkg/cli"
)

func main() {
	app := cli.DefaultApp()
	if err := cli.NewRootCommand(app).Execute(); err != nil {
		// check has already printed the verdict
		if !errors.Is(err, cli.ErrDenied) {
			app.Log.WithError(err).Error("Command failed")
		}
		os.Exit(1)
	}
}
