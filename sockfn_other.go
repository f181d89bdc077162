//go:build !unix

package asyncdns

import (
	"errors"
)

// Platforms without the unix socket implementation must inject their own SocketFunctions.
type unsupportedSocketFunctions struct{}

func defaultSocketFunctions() SocketFunctions {
	return unsupportedSocketFunctions{}
}

func (t unsupportedSocketFunctions) Dial(transport Transport, address string, cfg SocketConfig) (Socket, error) {
	return nil, errors.New("sockfn: no default socket implementation on this platform - set Options.SocketFunctions")
}
