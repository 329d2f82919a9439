package main

import "github.com/vidroom/signal-relay/cmd/signal-peer/cmd"

func main() {
	cmd.Execute()
}
