//go:build !darwin && !linux

package ipc

import "net"

// GetPeerCredentials is unsupported here; connections are refused.
func GetPeerCredentials(net.Conn) (*PeerCredentials, error) {
	return nil, ErrPeerCredentials
}
