package dnsutil

import (
	"encoding/hex"

	"github.com/miekg/dns"
)

// Cookie is the decoded RFC7873 COOKIE option from a DNS message. Client is always exactly eight
// bytes; Server is nil or 8..32 bytes.
type Cookie struct {
	Client []byte
	Server []byte
}

// FindCookie extracts the COOKIE option from the first OPT RR of a message.
//
// Returns (nil, false) when the message carries no cookie at all, (cookie, true) for a well-formed
// cookie, and (nil, true) for a COOKIE option whose length is outside the RFC7873 bounds - the
// engine treats that last case as a malformed response and drops it.
func FindCookie(msg *dns.Msg) (cookie *Cookie, present bool) {
	opt := FindOPT(msg)
	if opt == nil {
		return nil, false
	}

	for _, subOpt := range opt.Option {
		ec, ok := subOpt.(*dns.EDNS0_COOKIE)
		if !ok {
			continue
		}

		// miekg carries the option value hex encoded
		data, err := hex.DecodeString(ec.Cookie)
		if err != nil {
			return nil, true
		}
		if !ValidCookieLength(len(data)) {
			return nil, true
		}
		c := &Cookie{Client: data[:consts.ClientCookieLength]}
		if len(data) > consts.ClientCookieLength {
			c.Server = data[consts.ClientCookieLength:]
		}

		return c, true
	}

	return nil, false
}

// ValidCookieLength reports whether a raw COOKIE option value has a legitimate RFC7873 length:
// exactly a client cookie, or a client cookie plus a server cookie of 8..32 bytes.
func ValidCookieLength(l int) bool {
	if l == consts.ClientCookieLength {
		return true
	}

	return l >= consts.ClientCookieLength+consts.ServerCookieMinimum &&
		l <= consts.ClientCookieLength+consts.ServerCookieMaximum
}

// AddCookie appends a COOKIE option carrying the client cookie and, when known, the server cookie
// to the supplied OPT RR.
func AddCookie(opt *dns.OPT, client, server []byte) {
	data := make([]byte, 0, len(client)+len(server))
	data = append(data, client...)
	data = append(data, server...)
	opt.Option = append(opt.Option, &dns.EDNS0_COOKIE{
		Code:   dns.EDNS0COOKIE,
		Cookie: hex.EncodeToString(data),
	})
}
