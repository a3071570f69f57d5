package main

import (
	"github.com/akamensky/argparse"
)

// Options holds the parsed command line.
type Options struct {
	Start     *argparse.Command
	Database  *argparse.Command
	Export    *argparse.Command
	ListPorts *argparse.Command

	Port     *string
	Verbose  *bool
	HTTPPort *int

	parser *argparse.Parser
}

// NewOptions parses args, which include the program name.
func NewOptions(args []string) (*Options, error) {
	option := &Options{}

	parser := argparse.NewParser("meter-logger", "Reads SML from a power meter and logs it to SQLite")

	option.Start = parser.NewCommand("start", "Read the meter and serve the latest reading over HTTP")
	option.Port = option.Start.String("", "port", &argparse.Options{
		Help: "Serial port the optical head is attached to (overrides SERIAL_PORT)",
	})
	option.Verbose = option.Start.Flag("v", "verbose", &argparse.Options{
		Help: "Log at debug level",
	})
	option.HTTPPort = option.Start.Int("", "http-port", &argparse.Options{
		Help: "Port of the HTTP surface (overrides HTTP_PORT)",
	})

	option.Database = parser.NewCommand("database", "Print database location and metrics")
	option.Export = parser.NewCommand("export", "Write all stored readings to stdout as CSV")
	option.ListPorts = parser.NewCommand("list-ports", "List available serial ports")

	option.parser = parser
	if err := parser.Parse(args); err != nil {
		return option, err
	}

	return option, nil
}

// Usage renders the help text for err.
func (o *Options) Usage(err error) string {
	return o.parser.Usage(err)
}
