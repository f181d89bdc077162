//go:build unix

package main

import (
	"testing"
)

var usageTestCases = []testCase{
	{[]string{}, []string{}, "Fatal: asyncdns-dig: Require qName on command line. Consider -h"},
	{[]string{"-h"}, []string{"NAME", "SYNOPSIS", "OPTIONS", "Version: v"}, ""},
	{[]string{"--version"}, []string{"Version: v"}, ""},
	{[]string{"-badopt"}, []string{}, "flag provided but not defined"},

	{[]string{"example.net", "BADTYPE"}, []string{}, "Unrecognized qType"},
	{[]string{"example.net", "AAAA", "goop"}, []string{}, "know what to do"},

	{[]string{"-r", "-1", "example.net"}, []string{}, "Repeat count"},
}

func TestUsage(t *testing.T) {
	for tx, tc := range usageTestCases {
		runTest(t, tx, tc)
	}
}
