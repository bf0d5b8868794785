//go:build !linux

package netdev

import "errors"

// NewEthtoolProvider is only supported on Linux hosts.
func NewEthtoolProvider() (*EthtoolProvider, error) {
	return nil, errors.New("ethtool counter source is supported on linux only")
}
