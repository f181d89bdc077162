//go:build unix

package main

import (
	"fmt"
	"io"
	"text/template"
	"time"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.DigProgramName}} -- a DNS query program built on the asyncdns channel engine

SYNOPSIS
          {{.DigProgramName}} [options] qName [DNS-qType]

DESCRIPTION
          {{.DigProgramName}} issues DNS queries over UDP and TCP to the configured name servers.
          Only qClass=IN is supported. If a DNS-qType is not supplied then qType=A is used.

          The primary purpose of {{.DigProgramName}} is to exercise the channel engine exactly as an
          embedding application would: it submits queries, polls the channel's sockets and drives
          progress with Process. It is also a handy way to watch failover, truncation upgrades and
          cookie negotiation happen against real servers (use -v).

          **********
          Production Use Alert: {{.DigProgramName}} is a diagnostic program which will almost certainly
          change with each new package release. Please do not rely on its current behaviour
          or output format and definitely do not use it in a shell script.
          **********

EXAMPLES
            $ {{.DigProgramName}} -s 8.8.8.8 -s 1.1.1.1 yahoo.com MX

            $ {{.DigProgramName}} --dns0x20 -v www.example.net AAAA

OPTIONS
          [-hv] [--short] [--version]

          [-s name server...] [-r repeat count] [-t per-try timeout] [--tries count]

          [--no-edns] [--dns0x20] [--usevc] [--norotate] [--nosearch] [--nocache]

          [--gops]
`

//////////////////////////////////////////////////////////////////////

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err) // We've messed up our template
	}
	err = tmpl.Execute(out, consts)
	if err != nil {
		panic(err) // We've messed up our template
	}
	flagSet.SetOutput(out)
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

// parseCommandLine sets up the flags-to-config mapping and parses the supplied command line
// arguments. It starts from scratch each time to make it easier for test wrappers to use.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.verbose, "v", false, "Print server state and socket events as they happen")
	flagSet.Var(&cfg.servers, "s", "Name `server` to query (repeatable; default per resolv.conf)")
	flagSet.IntVar(&cfg.repeatCount, "r", 1, "`Number` of times to issue the query (GE zero)")
	flagSet.DurationVar(&cfg.timeout, "t", time.Second*2, "Per-try `timeout`")
	flagSet.IntVar(&cfg.tries, "tries", 0, "Retry rounds across the server list (0 = default)")

	flagSet.BoolVar(&cfg.short, "short", false, "Generate short output showing only Answer RRs")

	flagSet.BoolVar(&cfg.noEDNS, "no-edns", false, "Do not attach an EDNS OPT RR (also disables cookies)")
	flagSet.BoolVar(&cfg.dns0x20, "dns0x20", false, "Randomize query name case and verify the echo")
	flagSet.BoolVar(&cfg.useVC, "usevc", false, "Use TCP for all queries")
	flagSet.BoolVar(&cfg.noRotate, "norotate", false, "Never rotate healthy servers to the front")
	flagSet.BoolVar(&cfg.noSearch, "nosearch", false, "Disable search-list expansion")
	flagSet.BoolVar(&cfg.noCache, "nocache", false, "Disable the query cache")

	flagSet.BoolVar(&cfg.gops, "gops", false, "Start github.com/google/gops agent")

	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	return flagSet.Parse(args[1:])
}
