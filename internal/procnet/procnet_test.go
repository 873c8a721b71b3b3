package procnet

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
)

const udpTable = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode ref pointer drops
  120: 0100007F:D431 0100007F:14E9 01 00000000:00000000 00:00000000 00000000  1000        0 41234 2 0000000000000000 0
  121: 00000000:0044 00000000:0000 07 00000000:00000000 00:00000000 00000000     0        0 10021 2 0000000000000000 0
`

func writeProc(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "net"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "net", "udp"), []byte(udpTable), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestUDPOwner(t *testing.T) {
	table, err := Open(writeProc(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	tests := []struct {
		name    string
		local   string
		wantUID int
		wantOK  bool
	}{
		{"loopback client", "127.0.0.1:54321", 1000, true},
		{"wildcard bound", "127.0.0.1:68", 0, true},
		{"mapped address", "[::ffff:127.0.0.1]:54321", 1000, true},
		{"unknown port", "127.0.0.1:1", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uid, ok, err := table.UDPOwner(netip.MustParseAddrPort(tt.local))
			if err != nil {
				t.Fatalf("UDPOwner failed: %v", err)
			}
			if ok != tt.wantOK || uid != tt.wantUID {
				t.Errorf("UDPOwner = %d, %v, want %d, %v", uid, ok, tt.wantUID, tt.wantOK)
			}
		})
	}
}
