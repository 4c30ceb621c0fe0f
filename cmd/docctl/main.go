package main

import (
	"os"

	"github.com/feichai0017/medical-document-processor/cmd/docctl/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
