// Command looptune tunes annotated loop nests empirically: it generates the
// variants of a program, builds and times each one and reports the fastest.
package main

import (
	"fmt"
	"io"
	"os"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `usage: looptune <command> [flags] [args]

commands:
  tune      search the parameter space of an annotated program
  validate  compare one variant's output with the untransformed program
  serve     run the tuning daemon (HTTP and gRPC)
  version   print the version

Run 'looptune <command> -h' for the flags of a command.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "tune":
		return runTune(args[1:], stdout, stderr)
	case "validate":
		return runValidate(args[1:], stdout, stderr)
	case "serve":
		return runServe(args[1:], stderr)
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "looptune %s\n", version)
		return 0
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	}
	fmt.Fprintf(stderr, "looptune: unknown command %q\n\n%s", args[0], usage)
	return 2
}
