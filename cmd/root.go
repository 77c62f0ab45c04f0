// Package cmd provides the command-line interface for kiln. The tool is
// deliberately flagless: content, template, and output paths, the listen
// ports, and the poll interval are compiled-in constants, so every command
// runs with the same fixed configuration.
package cmd

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "A minimal static site generator with live reload",
	Long: `Kiln converts a tree of source documents into HTML pages, serves them
over HTTP, and refreshes connected browsers whenever the content changes.

Commands:
  kiln serve     Build the site and start the live development loop
  kiln build     Build the site once and exit
  kiln version   Print the version

Content lives under content/<collection>/, templates under templates/, and the
rendered site is written to output/. The development server listens on
127.0.0.1:7878 with the reload channel on 127.0.0.1:7879.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
