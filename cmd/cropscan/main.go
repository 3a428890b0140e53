// Command cropscan runs the offline-first crop scan agent.
package main

import (
	"os"

	"github.com/raysh454/cropscan/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
