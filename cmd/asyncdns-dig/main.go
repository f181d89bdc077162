//go:build unix

// Issue DNS queries via the asyncdns channel engine
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/markdingo/asyncdns"
	"github.com/markdingo/asyncdns/internal/constants"
	"github.com/markdingo/asyncdns/internal/dnsutil"

	"github.com/google/gops/agent"
	"github.com/miekg/dns"
	"golang.org/x/sys/unix"
)

// Program-wide variables
var (
	consts = constants.Get()
	cfg    *config

	stdout io.Writer
	stderr io.Writer

	flagSet *flag.FlagSet
)

//////////////////////////////////////////////////////////////////////

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.DigProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

//////////////////////////////////////////////////////////////////////
// main is a wrapper for mainExecute() so tests can call mainExecute()
//////////////////////////////////////////////////////////////////////

func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	flagSet = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	err := parseCommandLine(args)
	if err != nil {
		return 1 // Error already printed by the flag package
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.DigProgramName, "Version:", consts.Version)
		return 0
	}

	if cfg.repeatCount < 0 {
		return fatal("Repeat count (-r) must be GE zero, not", cfg.repeatCount)
	}

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fatal("gops agent", err)
		}
		defer agent.Close()
	}

	remainingOptions := flagSet.NArg() // Track command line options
	optionIndex := 0

	// Validate qName

	if remainingOptions < 1 {
		return fatal("Require qName on command line. Consider -h")
	}
	qName := flagSet.Arg(optionIndex)
	if len(qName) == 0 {
		return fatal("qName cannot be an empty string")
	}
	optionIndex++
	remainingOptions--

	// Validate qType - if present

	qTypeString := dns.TypeToString[dns.TypeA] // Default to an "A" query
	if remainingOptions > 0 {
		qTypeString = strings.ToUpper(flagSet.Arg(optionIndex))
		optionIndex++
		remainingOptions--
	}
	qType, ok := dns.StringToType[qTypeString] // Does miekg know about this type?
	if !ok {
		return fatal("Unrecognized qType of", qTypeString)
	}

	// Make sure there is no residual goop on the command line

	if remainingOptions > 0 {
		return fatal("Don't know what to do with residual goop on command line:", flagSet.Arg(optionIndex))
	}

	// Map command line settings to channel options and construct the channel

	opts := asyncdns.Options{
		Servers:           cfg.servers.Args(),
		Timeout:           cfg.timeout,
		Tries:             cfg.tries,
		DisableQueryCache: cfg.noCache,
	}
	if !cfg.noEDNS {
		opts.Flags |= asyncdns.FlagEDNS
	}
	if cfg.dns0x20 {
		opts.Flags |= asyncdns.FlagDNS0x20
	}
	if cfg.useVC {
		opts.Flags |= asyncdns.FlagUseVC
	}
	if cfg.noRotate {
		opts.Flags |= asyncdns.FlagNoRotate
	}
	if cfg.noSearch {
		opts.Flags |= asyncdns.FlagNoSearch
	}

	channel, err := asyncdns.NewChannel(opts)
	if err != nil {
		return fatal(err)
	}
	defer channel.Destroy()

	if cfg.verbose {
		channel.SetServerStateCallback(func(server string, success bool, transport asyncdns.Transport) {
			what := "sent"
			if success {
				what = "reply"
			}
			fmt.Fprintf(stderr, ";; Server %s %s/%s\n", what, server, transport)
		})
		channel.SetSocketCallback(func(fd int, transport asyncdns.Transport, server string) error {
			fmt.Fprintf(stderr, ";; Socket fd=%d %s/%s\n", fd, transport, server)
			return nil
		})
		fmt.Fprintln(stderr, ";; Servers:", channel.GetServersCSV())
	}

	// Issue the query the requested number of times. Serially - each query must complete
	// before the next starts so cache behavior is observable with -r 2.

	exitCode := 0
	for qx := 0; qx < cfg.repeatCount; qx++ {
		start := time.Now()
		var done bool
		channel.SearchName(qName, dns.ClassINET, qType,
			func(status asyncdns.Status, timeouts int, resp *dns.Msg) {
				done = true
				if status != asyncdns.StatusSuccess {
					fmt.Fprintln(stderr, "Error:", status, "timeouts:", timeouts)
					exitCode = 1
					return
				}
				printResponse(resp, timeouts, time.Since(start))
			})

		if err := drive(channel, &done); err != nil {
			return fatal(err)
		}
	}

	return exitCode
}

// drive runs the host side of the event interface with unix.Poll until the pending query
// completes: ask the channel which fds matter, poll them no longer than the next deadline, then
// feed readiness back in.
func drive(channel *asyncdns.Channel, done *bool) error {
	for !*done {
		interest := channel.GetSock()
		pollFDs := make([]unix.PollFd, 0, len(interest))
		for _, pfd := range interest {
			var events int16
			if pfd.Read {
				events |= unix.POLLIN
			}
			if pfd.Write {
				events |= unix.POLLOUT
			}
			pollFDs = append(pollFDs, unix.PollFd{Fd: int32(pfd.FD), Events: events})
		}

		timeout := int(channel.Timeout(time.Second) / time.Millisecond)
		n, err := unix.Poll(pollFDs, timeout)
		if err != nil && err != unix.EINTR {
			return err
		}

		if n <= 0 { // Timer tick only
			channel.Process(asyncdns.SocketBad, asyncdns.SocketBad)
			continue
		}
		for _, pfd := range pollFDs {
			readFD := asyncdns.SocketBad
			writeFD := asyncdns.SocketBad
			if pfd.Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0 {
				readFD = int(pfd.Fd)
			}
			if pfd.Revents&unix.POLLOUT != 0 {
				writeFD = int(pfd.Fd)
			}
			if readFD != asyncdns.SocketBad || writeFD != asyncdns.SocketBad {
				channel.Process(readFD, writeFD)
			}
		}
	}

	return nil
}

func printResponse(resp *dns.Msg, timeouts int, elapsed time.Duration) {
	if cfg.short {
		for _, rr := range resp.Answer {
			fmt.Fprintln(stdout, rr.String())
		}
		return
	}

	fmt.Fprintln(stdout, resp)
	fmt.Fprintln(stdout, ";;", dnsutil.CompactMsgString(resp))
	fmt.Fprintf(stdout, ";; Query Time: %s Timeouts: %d\n\n",
		elapsed.Truncate(time.Millisecond).String(), timeouts)
}
