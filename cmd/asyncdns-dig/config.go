//go:build unix

package main

import (
	"time"

	"github.com/markdingo/asyncdns/internal/flagutil"
)

type config struct {
	help    bool
	short   bool
	verbose bool
	version bool
	gops    bool

	servers     flagutil.StringValue // Name servers to query; repeatable and comma separable
	repeatCount int
	timeout     time.Duration // Per-try timeout
	tries       int

	noEDNS   bool
	dns0x20  bool
	useVC    bool
	noRotate bool
	noSearch bool
	noCache  bool
}
