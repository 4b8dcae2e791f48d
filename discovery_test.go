package main

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestReceiverFromEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry zeroconf.ServiceEntry
		want  DiscoveredReceiver
		ok    bool
	}{
		{
			name: "arcam instance name",
			entry: zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "Arcam AVR30"},
				AddrIPv4:      []net.IP{net.IPv4(192, 168, 1, 60)},
			},
			want: DiscoveredReceiver{Name: "Arcam AVR30", Host: "192.168.1.60"},
			ok:   true,
		},
		{
			name: "model txt record",
			entry: zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "Living Room"},
				AddrIPv4:      []net.IP{net.IPv4(192, 168, 1, 61)},
				Text:          []string{"model=Arcam AVR11", "features=0x445F8A00"},
			},
			want: DiscoveredReceiver{Name: "Living Room", Host: "192.168.1.61", Model: "Arcam AVR11"},
			ok:   true,
		},
		{
			name: "no ipv4 address",
			entry: zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "Arcam AVR30"},
			},
			ok: false,
		},
		{
			name: "unrelated airplay device",
			entry: zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "Kitchen Speaker"},
				AddrIPv4:      []net.IP{net.IPv4(192, 168, 1, 62)},
				Text:          []string{"model=AudioAccessory5,1"},
			},
			ok: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := receiverFromEntry(&tt.entry)
			if ok != tt.ok {
				t.Fatalf("receiverFromEntry() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("receiverFromEntry() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDiscoveryRegistryDeduplicates(t *testing.T) {
	registry := newDiscoveryRegistry()

	first := DiscoveredReceiver{Name: "Arcam AVR30", Host: "192.168.1.60"}
	if !registry.add(first) {
		t.Error("First add should report a new receiver")
	}
	if registry.add(DiscoveredReceiver{Name: "Arcam AVR30 (2)", Host: "192.168.1.60"}) {
		t.Error("Same host must not be reported twice")
	}
	if !registry.add(DiscoveredReceiver{Name: "Arcam AVR11", Host: "192.168.1.61"}) {
		t.Error("Different host should be added")
	}

	if got := len(registry.list()); got != 2 {
		t.Errorf("Registry holds %d receivers, want 2", got)
	}
}
