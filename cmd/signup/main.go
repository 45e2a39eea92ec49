// Command signup runs the signup wizard server and its lookup proxies.
package main

import (
	"os"

	"github.com/Anvisninger/signup-flow/cmd/signup/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
