package main

import (
	"fmt"
	"io"
	"os"

	"github.com/foyerhq/foyer/internal/identity"
)

func run(args []string, out io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: hashpw <password>")
		return 1
	}

	hash, err := identity.HashPassword(args[1])
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintln(out, hash)
	return 0
}

func main() {
	os.Exit(run(os.Args, os.Stdout))
}
