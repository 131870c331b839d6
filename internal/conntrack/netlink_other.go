//go:build !linux

package conntrack

import (
	"context"
	"errors"
)

// NetlinkSource is only functional on linux.
type NetlinkSource struct{}

func NewNetlinkSource() *NetlinkSource {
	return &NetlinkSource{}
}

func (s *NetlinkSource) Snapshot(context.Context) (Snapshot, error) {
	return Snapshot{}, unavailable(errors.New("netlink conntrack source requires linux"))
}
