package conntrack

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// ParseLine parses a single line from `/proc/net/nf_conntrack`.
//
// The format is not a strict key=value-only format. It begins with a few
// positional tokens, then contains repeated key=value tokens:
//
//	ipv4 2 tcp 6 431999 ESTABLISHED src=... dst=... sport=... dport=...
//	  packets=... bytes=... src=... dst=... sport=... dport=... packets=... bytes=...
//	  [mark=.. zone=.. use=..]
//
// The first src/dst/sport/dport/packets/bytes group is the original
// direction, the second the reply direction.
//
// Missing packets/bytes (nf_conntrack_acct=0) become 0. A line is rejected
// when it lacks addresses, or when a port-carrying protocol lacks valid
// ports.
func ParseLine(line string) (Flow, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Flow{}, false
	}

	f := Flow{
		Family:   fields[0],
		Protocol: fields[2],
	}

	var (
		srcs, dsts     []string
		sports, dports []string
		packets, bytes []uint64
	)

	for _, tok := range fields[3:] {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}

		switch k {
		case "src":
			srcs = append(srcs, v)
		case "dst":
			dsts = append(dsts, v)
		case "sport":
			sports = append(sports, v)
		case "dport":
			dports = append(dports, v)
		case "packets":
			n, _ := parseUint64(v)
			packets = append(packets, n)
		case "bytes":
			n, _ := parseUint64(v)
			bytes = append(bytes, n)
		}
	}

	if len(srcs) == 0 || len(dsts) == 0 {
		return Flow{}, false
	}
	f.SrcAddr = srcs[0]
	f.DstAddr = dsts[0]

	if portProtocol(f.Protocol) {
		if len(sports) == 0 || len(dports) == 0 {
			return Flow{}, false
		}
		var ok bool
		if f.SrcPort, ok = parsePort(sports[0]); !ok {
			return Flow{}, false
		}
		if f.DstPort, ok = parsePort(dports[0]); !ok {
			return Flow{}, false
		}
	}

	if len(packets) >= 1 {
		f.Original.Packets = packets[0]
	}
	if len(bytes) >= 1 {
		f.Original.Bytes = bytes[0]
	}
	if len(packets) >= 2 {
		f.Reply.Packets = packets[1]
	}
	if len(bytes) >= 2 {
		f.Reply.Bytes = bytes[1]
	}

	return f, true
}

// ParseProc parses a whole nf_conntrack dump. Bad lines are counted in
// Snapshot.Skipped; an error is returned only when reading fails or when
// the input had entries but none of them parsed.
func ParseProc(r io.Reader) (Snapshot, error) {
	var snap Snapshot

	sc := bufio.NewScanner(r)
	// conntrack lines are typically below 4K, but let's be safe.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		f, ok := ParseLine(line)
		if !ok {
			snap.Skipped++
			continue
		}
		snap.Flows = append(snap.Flows, f)
	}

	if err := sc.Err(); err != nil {
		return Snapshot{}, err
	}
	if len(snap.Flows) == 0 && snap.Skipped > 0 {
		return Snapshot{}, errors.New("no conntrack entries parsed from nf_conntrack")
	}

	return snap, nil
}
