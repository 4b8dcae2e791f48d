package main

import (
	"context"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

// DiscoveredReceiver is a receiver seen on the local network but not
// necessarily configured.
type DiscoveredReceiver struct {
	Name  string `json:"name"`
	Host  string `json:"host"`
	Model string `json:"model,omitempty"`
}

type discoveryRegistry struct {
	mu        sync.RWMutex
	receivers map[string]DiscoveredReceiver
}

func newDiscoveryRegistry() *discoveryRegistry {
	return &discoveryRegistry{receivers: make(map[string]DiscoveredReceiver)}
}

func (r *discoveryRegistry) add(rec DiscoveredReceiver) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.receivers[rec.Host]; exists {
		return false
	}
	r.receivers[rec.Host] = rec
	return true
}

func (r *discoveryRegistry) list() []DiscoveredReceiver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DiscoveredReceiver, 0, len(r.receivers))
	for _, rec := range r.receivers {
		out = append(out, rec)
	}
	return out
}

// discoverReceivers browses mDNS for Arcam receivers. Modern units
// advertise an AirPlay endpoint carrying the model in their TXT records.
func discoverReceivers(ctx context.Context, registry *discoveryRegistry, log zerolog.Logger) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize mDNS resolver")
		return
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case entry := <-entries:
				if entry == nil {
					continue
				}
				rec, ok := receiverFromEntry(entry)
				if !ok {
					continue
				}
				if registry.add(rec) {
					log.Info().Str("name", rec.Name).Str("host", rec.Host).
						Str("model", rec.Model).Msg("Discovered receiver")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, "_airplay._tcp", "local.", entries); err != nil {
		log.Error().Err(err).Msg("Failed to browse for receivers")
	}
	<-ctx.Done()
}

func receiverFromEntry(entry *zeroconf.ServiceEntry) (DiscoveredReceiver, bool) {
	if len(entry.AddrIPv4) == 0 {
		return DiscoveredReceiver{}, false
	}
	model := ""
	for _, txt := range entry.Text {
		if value, ok := strings.CutPrefix(txt, "model="); ok {
			model = value
			break
		}
	}
	arcam := strings.Contains(strings.ToLower(entry.Instance), "arcam") ||
		strings.Contains(strings.ToLower(model), "arcam")
	if !arcam {
		return DiscoveredReceiver{}, false
	}
	return DiscoveredReceiver{
		Name:  entry.Instance,
		Host:  entry.AddrIPv4[0].String(),
		Model: model,
	}, true
}
