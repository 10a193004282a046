//go:build !linux

package ctlplane

import (
	"errors"
	"net"
)

func peerCredentials(net.Conn) (Credentials, error) {
	return Credentials{}, errors.New("peer credentials are only available on linux")
}
