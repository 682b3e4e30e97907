// gotgenctl is the CLI client for the gotgen daemon.
package main

import "github.com/dantte-lp/gotgen/cmd/gotgenctl/commands"

func main() {
	commands.Execute()
}
