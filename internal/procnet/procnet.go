// Package procnet finds the owner of a local UDP socket.
package procnet

import (
	"fmt"
	"net/netip"

	"github.com/prometheus/procfs"
)

// Table looks up sockets in a proc filesystem.
type Table struct {
	fs procfs.FS
}

// Open returns a Table reading from the proc filesystem mounted at root.
func Open(root string) (*Table, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", root, err)
	}
	return &Table{fs: fs}, nil
}

// UDPOwner returns the UID owning the UDP socket bound to local.
func (t *Table) UDPOwner(local netip.AddrPort) (int, bool, error) {
	local = netip.AddrPortFrom(local.Addr().Unmap(), local.Port())

	var sockets procfs.NetUDP
	var err error
	if local.Addr().Is4() {
		sockets, err = t.fs.NetUDP()
	} else {
		sockets, err = t.fs.NetUDP6()
	}
	if err != nil {
		return 0, false, fmt.Errorf("read udp sockets: %w", err)
	}

	for _, s := range sockets {
		if s.LocalPort != uint64(local.Port()) {
			continue
		}
		addr, ok := netip.AddrFromSlice(s.LocalAddr)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if addr == local.Addr() || addr.IsUnspecified() {
			return int(s.UID), true, nil
		}
	}
	return 0, false, nil
}
