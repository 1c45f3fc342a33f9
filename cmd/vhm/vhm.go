package main

import (
	"github.com/tsundata/vhm/cmd/vhm/app"
	"github.com/tsundata/vhm/pkg/util/flog"
	"os"
)

func main() {
	command := app.NewVHMCommand()
	if err := command.Run(os.Args); err != nil {
		flog.Fatal(err)
	}
}
