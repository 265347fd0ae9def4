// Package main provides the entry point for the pagesearch CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/pagesearch/cmd/pagesearch/cmd"
	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, apperr.FormatForCLI(err))
		os.Exit(1)
	}
}
