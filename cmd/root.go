package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const usage = `gpt-relay relays chat, image and web-search requests to the OpenAI Responses API.

Usage:
  gpt-relay <command> [flags]

Commands:
  serve    Start the HTTP server
  models   Print the model catalog and how each entry resolves

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "models":
		return listModels(os.Stdout, args[1:])
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(usage))
	return nil
}
