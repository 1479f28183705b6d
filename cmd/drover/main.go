package main

import (
	"fmt"
	"os"

	"github.com/droverhq/drover/internal/cmd"
)

var (
	version = "0.0.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	code, err := cmd.Execute(version, commit, date)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}
