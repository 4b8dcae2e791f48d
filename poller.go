package main

import (
	"context"
	"errors"
	"time"
)

// pollNowPlaying compensates for the protocol pushing no track metadata on
// network sources. It runs for the lifetime of one connection and refreshes
// metadata for every zone that is powered on with a network source active.
// One coalesced data event is emitted per cycle that refreshed anything.
func (s *Supervisor) pollNowPlaying(ctx context.Context) {
	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		refreshed := false
		for _, zone := range s.zones {
			power, ok := zone.GetPower()
			if !ok || !power {
				continue
			}
			source, ok := zone.GetSource()
			if !ok || !source.IsNetwork() {
				continue
			}
			if err := zone.UpdateNowPlaying(ctx); err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrConnectionFailed) {
					// The supervisor is already tearing the connection down.
					return
				}
				s.log.Debug().Err(err).Uint8("zone", uint8(zone.Zone())).
					Msg("Now playing refresh failed")
				continue
			}
			refreshed = true
		}
		if refreshed {
			s.bus.Publish(EventData, s.client.Host())
		}

		timer.Reset(s.pollInterval)
	}
}
