//go:build linux

package netdev

import (
	"fmt"

	"github.com/safchain/ethtool"
)

// NewEthtoolProvider creates a provider backed by an ethtool client.
func NewEthtoolProvider() (*EthtoolProvider, error) {
	client, err := ethtool.NewEthtool()
	if err != nil {
		return nil, fmt.Errorf("open ethtool client: %w", err)
	}
	return newEthtoolProvider(client), nil
}
