package conntrack

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Shapes of `conntrack -L -o xml`:
//
//	<conntrack>
//	  <flow>
//	    <meta direction="original">
//	      <layer3 protoname="ipv4"><src/><dst/></layer3>
//	      <layer4 protoname="tcp"><sport/><dport/></layer4>
//	      <counters><packets/><bytes/></counters>
//	    </meta>
//	    <meta direction="reply">...</meta>
//	    <meta direction="independent">...</meta>
//	  </flow>
//	</conntrack>
type xmlFlow struct {
	Metas []xmlMeta `xml:"meta"`
}

type xmlMeta struct {
	Direction string       `xml:"direction,attr"`
	Layer3    *xmlLayer3   `xml:"layer3"`
	Layer4    *xmlLayer4   `xml:"layer4"`
	Counters  *xmlCounters `xml:"counters"`
}

type xmlLayer3 struct {
	Protoname string  `xml:"protoname,attr"`
	Src       *string `xml:"src"`
	Dst       *string `xml:"dst"`
}

type xmlLayer4 struct {
	Protoname string  `xml:"protoname,attr"`
	Sport     *string `xml:"sport"`
	Dport     *string `xml:"dport"`
}

type xmlCounters struct {
	Packets *string `xml:"packets"`
	Bytes   *string `xml:"bytes"`
}

var conntrackOpenTag = []byte("<conntrack>")

// ParseXML decodes the XML dump produced by `conntrack -L -o xml`.
//
// Anything before the <conntrack> element is ignored. Flows missing their
// tuple, or carrying unparsable ports or counters, are counted in
// Snapshot.Skipped. A document without a <conntrack> element, or one that
// is not well-formed, is an error.
func ParseXML(raw []byte) (Snapshot, error) {
	start := bytes.Index(raw, conntrackOpenTag)
	if start == -1 {
		return Snapshot{}, errors.New("no <conntrack> element in conntrack output")
	}

	var snap Snapshot
	dec := xml.NewDecoder(bytes.NewReader(raw[start:]))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("decode conntrack xml: %w", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "flow" {
			continue
		}

		var xf xmlFlow
		if err := dec.DecodeElement(&xf, &se); err != nil {
			return Snapshot{}, fmt.Errorf("decode conntrack flow: %w", err)
		}

		f, ok := xf.flow()
		if !ok {
			snap.Skipped++
			continue
		}
		snap.Flows = append(snap.Flows, f)
	}

	return snap, nil
}

func (xf xmlFlow) direction(name string, pos int) *xmlMeta {
	for i := range xf.Metas {
		if xf.Metas[i].Direction == name {
			return &xf.Metas[i]
		}
	}
	if pos < len(xf.Metas) && xf.Metas[pos].Direction == "" {
		return &xf.Metas[pos]
	}
	return nil
}

func (xf xmlFlow) flow() (Flow, bool) {
	orig := xf.direction("original", 0)
	if orig == nil || orig.Layer3 == nil || orig.Layer4 == nil {
		return Flow{}, false
	}
	l3, l4 := orig.Layer3, orig.Layer4
	if l3.Src == nil || l3.Dst == nil {
		return Flow{}, false
	}

	f := Flow{
		Family:   l3.Protoname,
		Protocol: l4.Protoname,
		SrcAddr:  strings.TrimSpace(*l3.Src),
		DstAddr:  strings.TrimSpace(*l3.Dst),
	}
	if f.SrcAddr == "" || f.DstAddr == "" {
		return Flow{}, false
	}

	if portProtocol(f.Protocol) {
		if l4.Sport == nil || l4.Dport == nil {
			return Flow{}, false
		}
		var ok bool
		if f.SrcPort, ok = parsePort(strings.TrimSpace(*l4.Sport)); !ok {
			return Flow{}, false
		}
		if f.DstPort, ok = parsePort(strings.TrimSpace(*l4.Dport)); !ok {
			return Flow{}, false
		}
	}

	var ok bool
	if f.Original, ok = orig.Counters.counters(); !ok {
		return Flow{}, false
	}
	if reply := xf.direction("reply", 1); reply != nil {
		if f.Reply, ok = reply.Counters.counters(); !ok {
			return Flow{}, false
		}
	}

	return f, true
}

// counters reads a <counters> block; absent blocks or elements are zero.
func (c *xmlCounters) counters() (Counters, bool) {
	var out Counters
	if c == nil {
		return out, true
	}
	var ok bool
	if c.Packets != nil {
		if out.Packets, ok = parseUint64(strings.TrimSpace(*c.Packets)); !ok {
			return Counters{}, false
		}
	}
	if c.Bytes != nil {
		if out.Bytes, ok = parseUint64(strings.TrimSpace(*c.Bytes)); !ok {
			return Counters{}, false
		}
	}
	return out, true
}
