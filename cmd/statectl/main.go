// Command statectl runs the state-consistency engine: a periodic tick loop
// (confirmation worker, poller, DLQ retrier) plus one-shot operator
// subcommands for inspecting and driving the canonical document.
package main

import (
	"fmt"
	"os"

	"github.com/ajeenkya/openclaw-state-consistency/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
