package main

import (
	"fmt"
	"os"

	"github.com/4-proxy/nekodb/internal/app"
	"github.com/4-proxy/nekodb/internal/cli"
	"github.com/agnosticeng/panicsafe"
)

func main() {
	var returned bool
	err := panicsafe.Recover(func() error {
		err := cli.Execute()
		returned = true
		return err
	})

	if !returned {
		fmt.Fprintf(os.Stderr, "panic: %v\n", err)
		os.Exit(app.ExitPanic)
	}
	if err != nil {
		os.Exit(app.ExitCodeForError(err))
	}
}
