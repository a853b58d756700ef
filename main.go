package main

import (
	"github.com/lance13c/chatgate/cmd"
)

var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
