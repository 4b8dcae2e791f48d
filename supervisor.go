package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const handshakeTimeout = 5 * time.Second

// Supervisor keeps one receiver reachable. It owns the reconnect loop,
// runs the read loop and the now-playing poller as the two tasks scoped to
// each connection lifetime, and emits lifecycle events on the bus. Callers
// get event subscription and zone state access only; individual commands go
// through the State directly.
type Supervisor struct {
	client       Client
	zones        []*State
	bus          *Bus
	scanInterval time.Duration
	pollInterval time.Duration
	log          zerolog.Logger
}

func NewSupervisor(client Client, zones []*State, bus *Bus, scanInterval, pollInterval time.Duration, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		client:       client,
		zones:        zones,
		bus:          bus,
		scanInterval: scanInterval,
		pollInterval: pollInterval,
		log:          log.With().Str("host", client.Host()).Logger(),
	}
}

// Run retries forever until ctx is cancelled. A connect timeout retries
// immediately; an explicit connection failure backs off one scan interval;
// anything unexpected is logged and treated the same. Nothing propagates.
func (s *Supervisor) Run(ctx context.Context) {
	for ctx.Err() == nil {
		err := s.runOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, context.DeadlineExceeded):
			// Device briefly unreachable, worth a fast retry.
			continue
		case errors.Is(err, ErrConnectionFailed) || err == nil:
			s.sleep(ctx)
		default:
			s.log.Error().Err(err).Msg("Unexpected error in client supervisor, retrying")
			s.sleep(ctx)
		}
	}
}

// runOnce is a single connect/process/disconnect cycle: the connection and
// both child tasks never outlive it.
func (s *Supervisor) runOnce(ctx context.Context) error {
	dialCtx, dialCancel := context.WithTimeout(ctx, s.scanInterval)
	err := s.client.Start(dialCtx)
	dialCancel()
	if err != nil {
		return err
	}
	s.log.Debug().Msg("Client connected")

	unsub := s.client.Listen(func(Frame) {
		s.bus.Publish(EventData, s.client.Host())
	})
	defer unsub()

	procCtx, procCancel := context.WithCancel(ctx)
	defer procCancel()
	procDone := make(chan error, 1)
	go func() {
		procDone <- s.client.Process(procCtx)
	}()

	// One full refresh before entities are told the device is back, so a
	// started event never exposes entirely stale state.
	for _, zone := range s.zones {
		if err := zone.Update(ctx); err != nil {
			s.log.Debug().Err(err).Msg("Initial state update failed")
			break
		}
	}
	s.bus.Publish(EventStarted, s.client.Host())
	s.bus.Publish(EventData, s.client.Host())

	pollCtx, pollCancel := context.WithCancel(ctx)
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		s.pollNowPlaying(pollCtx)
	}()

	// The read loop's completion is the join point for this connection.
	err = <-procDone

	pollCancel()
	<-pollDone

	unsub()
	if stopErr := s.client.Stop(); stopErr != nil {
		s.log.Debug().Err(stopErr).Msg("Error closing client")
	}
	s.log.Debug().Msg("Client disconnected")
	s.bus.Publish(EventStopped, s.client.Host())
	return err
}

func (s *Supervisor) sleep(ctx context.Context) {
	timer := time.NewTimer(s.scanInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// FetchDeviceName probes the receiver for its model identity via the AMX
// Duet beacon. One bounded attempt; any failure yields the empty string and
// the caller proceeds with a generic identity.
func FetchDeviceName(ctx context.Context, client Client, log zerolog.Logger) string {
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	defer func() {
		if err := client.Stop(); err != nil {
			log.Debug().Err(err).Msg("Error closing client after handshake")
		}
	}()

	if err := client.Start(hctx); err != nil {
		log.Debug().Err(err).Msg("Could not connect for model name handshake")
		return ""
	}

	// The read loop must run for the beacon exchange to complete. It is
	// cancelled and joined on every exit path.
	procCtx, procCancel := context.WithCancel(hctx)
	procDone := make(chan error, 1)
	go func() {
		procDone <- client.Process(procCtx)
	}()
	defer func() {
		procCancel()
		if err := <-procDone; err != nil && !errors.Is(err, context.Canceled) {
			log.Debug().Err(err).Msg("Handshake read loop ended with error")
		}
	}()

	info, err := client.RequestDuet(hctx)
	if err != nil {
		log.Debug().Err(err).Msg("Could not fetch model name during setup")
		return ""
	}
	return info.Model
}
