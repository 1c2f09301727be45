// Command vxi11d runs the VXI-11 instrument control protocol server.
package main

import (
	"os"

	"github.com/pigrew/vxi11d/cmd/vxi11d/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(commands.ExitCodeFor(err))
	}
}
