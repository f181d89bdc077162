// Package flagutil provides additional support around the flag package. At the moment that consists
// solely of the StringValue struct which conforms to the flag.Value method for multiple occurrence
// flags containing string values.
//
// The reason for providing StringValue is so that commands can offer a flag to set multiple values
// such as:
//
// $command -s 8.8.8.8 -s 1.1.1.1 -s 9.9.9.9
// ...
//
// Because name server lists are conventionally written as comma separated values, Set also splits
// each occurrence on commas, so "-s 8.8.8.8,1.1.1.1" and "-s 8.8.8.8 -s 1.1.1.1" accumulate the
// same arguments.
//
// Usage is as documented in the flags package:
//
//	var ms flagutil.StringValue
//	flagSet.Var(&ms, "someopt", "Short description of opt")
//	args := ms.Args() // Return an array of strings
package flagutil

import (
	"strings"
)

// StringValue is the type provided to flag.Var()
type StringValue struct {
	strings []string
}

// Set appends a string to the internal array - it is called by the flag package for each occurrence
// of the corresponding option on the command line. The string is split on commas with empty fields
// discarded. Part of the flag.Value interface.
func (t *StringValue) Set(s string) error {
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if len(field) > 0 {
			t.strings = append(t.strings, field)
		}
	}

	return nil
}

// String returns a space separated string of all the arguments provided by Set. Part of the
// flag.Value interface.
func (t *StringValue) String() string {
	return strings.Join(t.strings, " ")
}

// CSV returns all the arguments provided by Set as a single comma separated string.
func (t *StringValue) CSV() string {
	return strings.Join(t.strings, ",")
}

// Args returns a copy of the array of strings returned by Set. You can safely modify this
// array without fear of changing the internal data.
func (t *StringValue) Args() []string {
	return append([]string{}, t.strings...)
}

// NArg returns the number of strings created by Set
func (t *StringValue) NArg() int {
	return len(t.strings)
}
