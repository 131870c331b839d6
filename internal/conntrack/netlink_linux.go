//go:build linux

package conntrack

import (
	"context"
	"strconv"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// NetlinkSource dumps the IPv4 conntrack table over ctnetlink, without the
// conntrack CLI. Needs CAP_NET_ADMIN.
type NetlinkSource struct {
	list func(netlink.ConntrackTableType, netlink.InetFamily) ([]*netlink.ConntrackFlow, error)
}

func NewNetlinkSource() *NetlinkSource {
	return &NetlinkSource{list: netlink.ConntrackTableList}
}

func (s *NetlinkSource) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, unavailable(err)
	}

	flows, err := s.list(netlink.ConntrackTable, unix.AF_INET)
	if err != nil {
		return Snapshot{}, unavailable(err)
	}

	snap := Snapshot{Flows: make([]Flow, 0, len(flows))}
	for _, cf := range flows {
		f, ok := flowFromNetlink(cf)
		if !ok {
			snap.Skipped++
			continue
		}
		snap.Flows = append(snap.Flows, f)
	}
	return snap, nil
}

func flowFromNetlink(cf *netlink.ConntrackFlow) (Flow, bool) {
	if cf == nil || cf.Forward.SrcIP == nil || cf.Forward.DstIP == nil {
		return Flow{}, false
	}
	fwd, rev := cf.Forward, cf.Reverse
	return Flow{
		Family:   familyName(cf.FamilyType),
		Protocol: protocolName(fwd.Protocol),
		SrcAddr:  fwd.SrcIP.String(),
		SrcPort:  fwd.SrcPort,
		DstAddr:  fwd.DstIP.String(),
		DstPort:  fwd.DstPort,
		Original: Counters{Packets: fwd.Packets, Bytes: fwd.Bytes},
		Reply:    Counters{Packets: rev.Packets, Bytes: rev.Bytes},
	}, true
}

func familyName(f uint8) string {
	switch f {
	case unix.AF_INET:
		return "ipv4"
	case unix.AF_INET6:
		return "ipv6"
	}
	return strconv.Itoa(int(f))
}

func protocolName(p uint8) string {
	switch p {
	case unix.IPPROTO_TCP:
		return "tcp"
	case unix.IPPROTO_UDP:
		return "udp"
	case unix.IPPROTO_ICMP:
		return "icmp"
	case unix.IPPROTO_ICMPV6:
		return "icmpv6"
	case unix.IPPROTO_SCTP:
		return "sctp"
	}
	return strconv.Itoa(int(p))
}
