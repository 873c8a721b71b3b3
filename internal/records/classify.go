package records

import "strings"

// Labels used when no application owns a flow.
const (
	LabelUnknownSystem = "Unknown system traffic"
	LabelHotspot       = "WiFi"
	LabelUSB           = "USB"
	LabelLAN           = "LAN"
)

// AppNameResolver maps an owning UID to an application name.
type AppNameResolver interface {
	NameByUID(uid int) (string, bool)
}

// HostResolver performs a reverse lookup of an address. It returns "" when
// nothing is known.
type HostResolver interface {
	HostByIP(ip string) string
}

// Network describes the interfaces that may originate traffic without an
// application mapping.
type Network struct {
	Metered           bool
	TorTethering      bool
	Hotspot           bool
	USBTether         bool
	Ethernet          bool
	FixTTL            bool
	HotspotPrefix     string
	USBPrefix         string
	LocalEthernetAddr string
}

func (n Network) tethering() bool {
	return n.TorTethering || n.Hotspot || n.USBTether || n.Ethernet
}

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	Apps    AppNameResolver
	Hosts   HostResolver // optional
	Network Network
	// SuppressIPv6Blocks drops records blocked only because they were IPv6.
	SuppressIPv6Blocks bool
}

// Classifier converts raw records into display records. It is pure except
// for the application and host lookups.
type Classifier struct {
	apps         AppNameResolver
	hosts        HostResolver
	net          Network
	suppressIPv6 bool
}

// NewClassifier creates a Classifier.
func NewClassifier(opts ClassifierOptions) *Classifier {
	return &Classifier{
		apps:         opts.Apps,
		hosts:        opts.Hosts,
		net:          opts.Network,
		suppressIPv6: opts.SuppressIPv6Blocks,
	}
}

// Convert classifies raw in order.
func (c *Classifier) Convert(raw []RawQueryRecord) []ClassifiedRecord {
	out := make([]ClassifiedRecord, 0, len(raw))
	for _, r := range raw {
		if c.suppressIPv6 && r.BlockedByIPv6 {
			continue
		}
		if r.Blocked {
			out = append(out, c.blocked(r))
			continue
		}
		out = append(out, c.allowed(r))
	}
	return out
}

func (c *Classifier) blocked(r RawQueryRecord) ClassifiedRecord {
	name := r.QName
	if r.AName != "" {
		name = r.AName
	}
	text := strings.ToLower(name)
	if r.BlockedByIPv6 {
		text += " ipv6"
	}
	return ClassifiedRecord{Kind: KindBlocked, Text: text, Raw: r}
}

func (c *Classifier) allowed(r RawQueryRecord) ClassifiedRecord {
	owned := r.UID != NoOwnerUID

	kind := KindPlain
	if owned && r.DAddr != "" {
		kind = KindAttributed
	}

	label := ""
	if owned {
		label = c.label(r)
	}

	var parts []string
	if r.AName != "" {
		name := strings.ToLower(r.AName)
		if strings.Contains(r.DAddr, ":") {
			name += " ipv6"
		}
		parts = append(parts, name)
	}
	if r.CName != "" {
		parts = append(parts, strings.ToLower(r.CName))
	}
	if r.DAddr != "" {
		if owned && !c.net.Metered && c.hosts != nil {
			ip := r.FirstDAddr()
			if host := c.hosts.HostByIP(ip); host != "" && host != ip {
				parts = append(parts, host)
			}
		}
		parts = append(parts, r.DAddr)
	}

	return ClassifiedRecord{
		Kind:  kind,
		Label: label,
		Text:  strings.Join(parts, " -> "),
		Raw:   r,
	}
}

// label resolves the owning application, falling back to the network
// segment the query came from.
func (c *Classifier) label(r RawQueryRecord) string {
	if c.apps != nil {
		if name, ok := c.apps.NameByUID(r.UID); ok && name != "" {
			return name
		}
	}

	switch {
	case c.net.Hotspot && c.net.HotspotPrefix != "" && strings.Contains(r.SAddr, c.net.HotspotPrefix):
		return LabelHotspot
	case c.net.USBTether && c.net.USBPrefix != "" && strings.Contains(r.SAddr, c.net.USBPrefix):
		return LabelUSB
	case c.net.Ethernet && c.net.LocalEthernetAddr != "" && strings.Contains(r.SAddr, c.net.LocalEthernetAddr):
		return LabelLAN
	case !c.net.tethering() && !c.net.FixTTL:
		return LabelUnknownSystem
	}
	return ""
}
