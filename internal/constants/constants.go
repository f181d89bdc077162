/*
Package constants provides common values used across all asyncdns packages. Usage is to call the
global Get() function which returns the Constants by value ensuring that any modifications made
(accidental or otherwise) will not affect other modules when they call Get().

Typically usage:

    consts := constants.Get()
    fmt.Println("I am", consts.DigProgramName, "based on", consts.RFC)

The primary reason for making this a constructed struct rather than the more typical const () block
is so that it can be fed directly into templating packages for printing usage messages.
*/
package constants

import "time"

// Constants contains the system-wide constants
type Constants struct {
	DigProgramName string // Package related constants
	Version        string
	PackageName    string
	PackageURL     string
	RFC            string

	DNSDefaultPort          string // DNS Related constants
	MinimumViableDNSMessage uint   // MsgHdr + one Question with zero length name
	DNSTruncateThreshold    int    // A message larger than this size may be truncated unless EDNS0
	MaximumViableDNSMessage uint
	EDNSDefaultPayloadSize  uint16 // Advertised UDP payload size in our OPT RR

	ClientCookieLength  int // RFC7873 fixed client cookie length
	ServerCookieMinimum int // RFC7873 server cookie bounds
	ServerCookieMaximum int

	DefaultTries          int           // Resolution defaults applied by the channel when
	DefaultTimeout        time.Duration // the corresponding option is zero
	DefaultNDots          int
	DefaultCacheMaxTTL    time.Duration
	DefaultRetryChance    float64 // Probability of probing a cooled-down failed server
	DefaultRetryDelay     time.Duration
	BadCookieTCPThreshold int // Consecutive BADCOOKIE replies before a TCP upgrade

	DNSUDPTransport string // Suitable for the "net" package, but just to make sure we're
	DNSTCPTransport string // consistent across the whole package.
}

var readOnlyConstants *Constants

// createReadOnlyConstants creates a read-only copy of the Constants which is copied whenever a
// caller asks for the constants set. The main reason for returning a struct is so that callers can
// inspect and/or use packages that introspect - particularly */template packages.
func createReadOnlyConstants() {
	readOnlyConstants = &Constants{
		DigProgramName: "asyncdns-dig",
		Version:        "v0.1.0",
		PackageName:    "Async DNS Stub Resolver",
		PackageURL:     "https://github.com/markdingo/asyncdns",
		RFC:            "RFC1035",

		DNSDefaultPort:          "53",
		MinimumViableDNSMessage: 16, // A legit binary DNS Message *cannot* be shorter than this
		DNSTruncateThreshold:    512,
		MaximumViableDNSMessage: 65535,
		EDNSDefaultPayloadSize:  1232,

		ClientCookieLength:  8,
		ServerCookieMinimum: 8,
		ServerCookieMaximum: 32,

		DefaultTries:          3,
		DefaultTimeout:        time.Second * 2,
		DefaultNDots:          1,
		DefaultCacheMaxTTL:    time.Hour,
		DefaultRetryChance:    0.1,
		DefaultRetryDelay:     time.Second * 5,
		BadCookieTCPThreshold: 3,

		DNSUDPTransport: "udp",
		DNSTCPTransport: "tcp",
	}
}

func init() {
	createReadOnlyConstants()
}

// Get returns a copy of the read-only constants
func Get() Constants {
	return *readOnlyConstants
}
