package cmd

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"gpt-relay/internal/catalog"
	"gpt-relay/internal/config"
)

const modelsUsage = `Usage:
  gpt-relay models [--config <path>]

Flags:
  --config string   Path to YAML configuration file`

func listModels(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, modelsUsage)
	}

	var cfgPath string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse models flags: %w", err)
	}

	modelsCfg, err := config.LoadModels(cfgPath)
	if err != nil {
		return err
	}
	cat, err := catalog.New(modelsCfg)
	if err != nil {
		return fmt.Errorf("build model catalog: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tUPSTREAM\tWEB SEARCH")
	for _, m := range cat.Models() {
		chat := cat.Resolve(m.ID, "", false)
		search := cat.Resolve(m.ID, "", true)
		id := m.ID
		if id == cat.DefaultModel() {
			id += " (default)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, m.Name, chat.Effective, search.Effective)
	}
	return tw.Flush()
}
