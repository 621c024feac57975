// Command codelensd is the minimal operator CLI for the code indexing and
// search engine: enough to index a repository, run a one-off query, and
// check status, without embedding any MCP transport.
package main

import (
	"os"

	"github.com/codelens-dev/codelens/cmd/codelensd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
