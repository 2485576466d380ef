// Package main provides the Subgate server.
//
// This is the entrypoint for the subgate-server binary which serves the
// operator API, subscription delivery and the node agent API.
package main

import (
	"os"

	"subgate.io/subgate/cmd/subgate-server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
