package main

import (
	"bringmeimage/cmd/bringmeimage/cmd"
)

func main() {
	// Execute the root command (defined in cmd/root.go)
	cmd.Execute()
}
