package replay

import "os"

// ShowHelp prints usage information for the replay tool.
func ShowHelp() {
	os.Stdout.WriteString(`encuesta replay
===============

Re-submits deal ids to a running eligibility service through its webhook and
prints what was decided. Deals already decided come back as duplicates, so a
replay is safe to repeat.

Usage:
  replay [options] [id ...]

Ids are taken from -file when given, otherwise from the arguments, otherwise
from stdin. One id per line; commas also separate ids; '#' starts a comment.

Options:
  -url string
        Base URL of the service (default "http://localhost:8080")
  -file string
        File with deal ids ("-" for stdin)
  -batch int
        Ids per webhook call (default 10)
  -workers int
        Concurrent webhook calls (default 1)
  -timeout duration
        HTTP request timeout (default 5m)
  -log-format string
        text or json (default "text")
  -verbose
        Log every batch
  -help
        Show this help message

Examples:
  replay 1001 1002 1003
  replay -file missed_deals.txt -batch 20
  cut -d, -f1 export.csv | replay -url http://encuesta:8080
`)
}
