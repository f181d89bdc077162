package asyncdns

import (
	"github.com/miekg/dns"
)

// Status is the stable result code delivered to every callback. The numeric values form part of
// the public contract and never change - hosts may persist or compare them as integers.
type Status int

const (
	StatusSuccess              Status = 0  // The request completed with an answer
	StatusNoData               Status = 1  // The name exists but holds no records of the requested type
	StatusFormErr              Status = 2  // The server says the query was malformed
	StatusServFail             Status = 3  // The server failed internally
	StatusNotFound             Status = 4  // The name does not exist (NXDOMAIN)
	StatusNotImp               Status = 5  // The server does not implement the operation
	StatusRefused              Status = 6  // The server refused the operation
	StatusBadQuery             Status = 7  // The submitted query record was malformed
	StatusBadName              Status = 8  // The submitted name is not a valid DNS name
	StatusBadFamily            Status = 9  // The requested address family is unsupported
	StatusBadResp              Status = 10 // The response could not be parsed
	StatusConnRefused          Status = 11 // A connection to the server was refused
	StatusTimeout              Status = 12 // The retry budget expired with no usable response
	StatusEOF                  Status = 13 // End of file
	StatusFile                 Status = 14 // A configuration file could not be read
	StatusNoMem                Status = 15 // Allocation failure
	StatusDestruction          Status = 16 // The channel was destroyed while the request was in flight
	StatusBadStr               Status = 17 // A malformed string was supplied
	StatusBadFlags             Status = 18 // Illegal flags were supplied
	StatusNoName               Status = 19 // The given hostname is not numeric
	StatusBadHints             Status = 20 // Illegal hints were supplied
	StatusNotInitialized       Status = 21 // The channel is not initialized
	StatusLoadIphlpapi         Status = 22 // Retained for interface stability; never produced on unix
	StatusAddrGetNetworkParams Status = 23 // Retained for interface stability; never produced on unix
	StatusCancelled            Status = 24 // The request was cancelled by the host
	StatusService              Status = 25 // The service name could not be resolved
)

var statusStrings = map[Status]string{
	StatusSuccess:              "Successful completion",
	StatusNoData:               "DNS server returned answer with no data",
	StatusFormErr:              "DNS server claims query was misformatted",
	StatusServFail:             "DNS server returned general failure",
	StatusNotFound:             "Domain name not found",
	StatusNotImp:               "DNS server does not implement requested operation",
	StatusRefused:              "DNS server refused query",
	StatusBadQuery:             "Misformatted DNS query",
	StatusBadName:              "Misformatted domain name",
	StatusBadFamily:            "Unsupported address family",
	StatusBadResp:              "Misformatted DNS reply",
	StatusConnRefused:          "Could not contact DNS servers",
	StatusTimeout:              "Timeout while contacting DNS servers",
	StatusEOF:                  "End of file",
	StatusFile:                 "Error reading file",
	StatusNoMem:                "Out of memory",
	StatusDestruction:          "Channel is being destroyed",
	StatusBadStr:               "Misformatted string",
	StatusBadFlags:             "Illegal flags specified",
	StatusNoName:               "Given hostname is not numeric",
	StatusBadHints:             "Illegal hints flags specified",
	StatusNotInitialized:       "Library initialization not yet performed",
	StatusLoadIphlpapi:         "Error loading iphlpapi.dll",
	StatusAddrGetNetworkParams: "Could not find GetNetworkParams function",
	StatusCancelled:            "DNS query cancelled",
	StatusService:              "Service name not found",
}

// String returns the human-readable description of the status.
func (t Status) String() string {
	if s, ok := statusStrings[t]; ok {
		return s
	}

	return "Unknown status"
}

// Error makes a Status usable as a Go error. StatusSuccess is still a non-nil error when stored in
// an error variable, so callers should branch on the Status value, not on nil-ness.
func (t Status) Error() string {
	return t.String()
}

// statusForResponse maps the rcode of an accepted, definitive response to the status a callback
// receives. Failover-class rcodes are mapped by statusForRcode instead; anything unrecognized here
// is a bad response.
func statusForResponse(resp *dns.Msg) Status {
	switch resp.Rcode {
	case dns.RcodeSuccess:
		if len(resp.Answer) == 0 {
			return StatusNoData
		}
		return StatusSuccess
	case dns.RcodeNameError:
		return StatusNotFound
	}

	return statusForRcode(resp.Rcode)
}

// statusForRcode maps a failover-class rcode to its surfaced status.
func statusForRcode(rcode int) Status {
	switch rcode {
	case dns.RcodeFormatError:
		return StatusFormErr
	case dns.RcodeServerFailure:
		return StatusServFail
	case dns.RcodeNotImplemented:
		return StatusNotImp
	case dns.RcodeRefused:
		return StatusRefused
	}

	return StatusBadResp
}
