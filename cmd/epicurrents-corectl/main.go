// Command epicurrents-corectl runs the core worker as a standalone
// process: "serve" starts the data service over a websocket transport,
// "inspect" loads a recording header and prints its derived metadata.
//
// Grounded on ColonelBlimp-cwdecoder's cmd/root.go: a cobra root command
// with a RunE entry point, OS signal handling via a cancelled context, and
// cobra.OnInitialize wiring config.Init before every subcommand runs.
package main

import "epicurrents.dev/core/cmd/epicurrents-corectl/cmd"

func main() {
	cmd.Execute()
}
