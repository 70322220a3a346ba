package main

import "github.com/example/availability-orchestrator/cmd"

func main() {
	cmd.Execute()
}
