package main

import (
	"github.com/relaywatch/relaywatch/cmd/relaywatch/cmd"
)

func main() {
	cmd.Execute()
}
