package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type apiServer struct {
	devices      map[string]*Device
	bus          *Bus
	discovered   *discoveryRegistry
	zone2Enabled bool
	upgrader     websocket.Upgrader
	log          zerolog.Logger
}

func newAPIServer(devices map[string]*Device, bus *Bus, discovered *discoveryRegistry, zone2Enabled bool, log zerolog.Logger) *apiServer {
	return &apiServer{
		devices:      devices,
		bus:          bus,
		discovered:   discovered,
		zone2Enabled: zone2Enabled,
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:          log,
	}
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/status.json", s.statusHandler)
	r.Get("/discovered.json", s.discoveredHandler)
	r.Get("/events", s.eventsHandler)

	r.Route("/devices/{host}", func(r chi.Router) {
		r.Get("/controls.json", s.controlsHandler)
		r.Post("/controls/{key}", s.setControlHandler)
		r.Route("/zones/{zone}", func(r chi.Router) {
			r.Post("/power", s.powerHandler)
			r.Post("/volume", s.volumeHandler)
			r.Post("/mute", s.muteHandler)
			r.Post("/source", s.sourceHandler)
			r.Post("/sound_mode", s.soundModeHandler)
			r.Post("/preset", s.presetHandler)
			r.Get("/presets.json", s.presetsHandler)
			r.Get("/artwork.json", s.artworkHandler)
		})
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Error encoding JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeCommandError maps errors from write commands onto status codes: a
// command that failed because the session dropped is a gateway problem,
// anything else is the caller's input.
func (s *apiServer) writeCommandError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrCommandFailed) || errors.Is(err, ErrConnectionFailed) {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *apiServer) device(w http.ResponseWriter, r *http.Request) *Device {
	host := chi.URLParam(r, "host")
	device, ok := s.devices[host]
	if !ok {
		http.Error(w, "Device not found", http.StatusNotFound)
		return nil
	}
	return device
}

func (s *apiServer) zone(w http.ResponseWriter, r *http.Request) *State {
	device := s.device(w, r)
	if device == nil {
		return nil
	}
	switch chi.URLParam(r, "zone") {
	case "1":
		return device.zone1
	case "2":
		if !s.zone2Enabled {
			http.Error(w, "Zone not found", http.StatusNotFound)
			return nil
		}
		return device.zone2
	}
	http.Error(w, "Zone not found", http.StatusNotFound)
	return nil
}

func (s *apiServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	statuses := make(map[string]DeviceStatus, len(s.devices))
	for host, device := range s.devices {
		statuses[host] = device.status(s.zone2Enabled)
	}
	s.writeJSON(w, statuses)
}

func (s *apiServer) discoveredHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.discovered.list())
}

func (s *apiServer) powerHandler(w http.ResponseWriter, r *http.Request) {
	zone := s.zone(w, r)
	if zone == nil {
		return
	}
	var body struct {
		On *bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.On == nil {
		http.Error(w, "Body must carry an 'on' boolean", http.StatusBadRequest)
		return
	}
	if err := commandResult("power", zone.SetPower(r.Context(), *body.On)); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{})
}

func (s *apiServer) volumeHandler(w http.ResponseWriter, r *http.Request) {
	zone := s.zone(w, r)
	if zone == nil {
		return
	}
	var body struct {
		Volume *int   `json:"volume"`
		Step   string `json:"step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return
	}

	var err error
	switch {
	case body.Volume != nil:
		err = zone.SetVolume(r.Context(), *body.Volume)
	case body.Step == "up":
		err = zone.IncVolume(r.Context())
	case body.Step == "down":
		err = zone.DecVolume(r.Context())
	default:
		http.Error(w, "Body must carry 'volume' or 'step'", http.StatusBadRequest)
		return
	}
	if err = commandResult("volume", err); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{})
}

func (s *apiServer) muteHandler(w http.ResponseWriter, r *http.Request) {
	zone := s.zone(w, r)
	if zone == nil {
		return
	}
	var body struct {
		Mute *bool `json:"mute"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Mute == nil {
		http.Error(w, "Body must carry a 'mute' boolean", http.StatusBadRequest)
		return
	}
	if err := commandResult("mute", zone.SetMute(r.Context(), *body.Mute)); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{})
}

func (s *apiServer) sourceHandler(w http.ResponseWriter, r *http.Request) {
	zone := s.zone(w, r)
	if zone == nil {
		return
	}
	var body struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Source == "" {
		http.Error(w, "Body must carry a 'source' name", http.StatusBadRequest)
		return
	}
	source, ok := SourceByName(body.Source)
	if !ok {
		http.Error(w, fmt.Sprintf("Unsupported source %q", body.Source), http.StatusBadRequest)
		return
	}
	if err := commandResult("source", zone.SetSource(r.Context(), source)); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{})
}

func (s *apiServer) soundModeHandler(w http.ResponseWriter, r *http.Request) {
	zone := s.zone(w, r)
	if zone == nil {
		return
	}
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Mode == "" {
		http.Error(w, "Body must carry a 'mode' name", http.StatusBadRequest)
		return
	}
	mode, ok := DecodeModeByName(body.Mode)
	if !ok {
		http.Error(w, fmt.Sprintf("Unsupported sound mode %q", body.Mode), http.StatusBadRequest)
		return
	}
	if err := commandResult("sound_mode", zone.SetDecodeMode(r.Context(), mode)); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{})
}

func (s *apiServer) presetHandler(w http.ResponseWriter, r *http.Request) {
	zone := s.zone(w, r)
	if zone == nil {
		return
	}
	var body struct {
		Preset *int `json:"preset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Preset == nil {
		http.Error(w, "Body must carry a 'preset' number", http.StatusBadRequest)
		return
	}
	if err := commandResult("preset", zone.SetTunerPreset(r.Context(), *body.Preset)); err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{})
}

func (s *apiServer) presetsHandler(w http.ResponseWriter, r *http.Request) {
	zone := s.zone(w, r)
	if zone == nil {
		return
	}
	s.writeJSON(w, zone.PresetDetails())
}

func (s *apiServer) artworkHandler(w http.ResponseWriter, r *http.Request) {
	device := s.device(w, r)
	if device == nil {
		return
	}
	zone := s.zone(w, r)
	if zone == nil {
		return
	}

	url := ""
	if source, ok := zone.GetSource(); ok && source.IsNetwork() {
		if info, ok := zone.GetNowPlaying(); ok {
			switch {
			case info.Artist != "" && info.Album != "":
				url = device.artwork.AlbumArtwork(r.Context(), info.Artist, info.Album)
			case info.Title != "":
				url = device.artwork.PodcastArtwork(r.Context(), info.Title)
			}
		}
	}
	s.writeJSON(w, map[string]string{"url": url})
}

func (s *apiServer) controlsHandler(w http.ResponseWriter, r *http.Request) {
	device := s.device(w, r)
	if device == nil {
		return
	}
	// Audio controls live on zone 1 only.
	zone := device.zone1

	controls := make(map[string]any)
	for _, c := range numberControls {
		entry := map[string]any{
			"min":  c.Min,
			"max":  c.Max,
			"step": c.Step,
		}
		if c.Unit != "" {
			entry["unit"] = c.Unit
		}
		if value, ok := c.Value(zone); ok {
			entry["value"] = value
		}
		controls[c.Key] = entry
	}
	for _, c := range selectControls {
		entry := map[string]any{"options": c.OptionList()}
		if option, ok := c.Current(zone); ok {
			entry["option"] = option
		}
		controls[c.Key] = entry
	}
	for _, c := range switchControls {
		entry := map[string]any{}
		if on, ok := c.IsOn(zone); ok {
			entry["on"] = on
		}
		controls[c.Key] = entry
	}
	s.writeJSON(w, controls)
}

func (s *apiServer) setControlHandler(w http.ResponseWriter, r *http.Request) {
	device := s.device(w, r)
	if device == nil {
		return
	}
	zone := device.zone1
	key := chi.URLParam(r, "key")

	var body struct {
		Value  *int    `json:"value"`
		Option *string `json:"option"`
		On     *bool   `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return
	}

	var err error
	switch {
	case body.Value != nil:
		control, ok := findNumberControl(key)
		if !ok {
			http.Error(w, "Unknown control", http.StatusNotFound)
			return
		}
		err = control.Set(r.Context(), zone, *body.Value)
	case body.Option != nil:
		control, ok := findSelectControl(key)
		if !ok {
			http.Error(w, "Unknown control", http.StatusNotFound)
			return
		}
		err = control.Set(r.Context(), zone, *body.Option)
	case body.On != nil:
		control, ok := findSwitchControl(key)
		if !ok {
			http.Error(w, "Unknown control", http.StatusNotFound)
			return
		}
		err = control.Set(r.Context(), zone, *body.On)
	default:
		http.Error(w, "Body must carry 'value', 'option' or 'on'", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{})
}

// eventsHandler streams lifecycle events over a websocket. Slow clients
// drop events rather than blocking the bus.
func (s *apiServer) eventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	log := s.log.With().Str("ws_client", clientID).Logger()
	log.Debug().Msg("Event stream client connected")

	events := make(chan Event, 16)
	unsub := s.bus.Subscribe(func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})
	defer unsub()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("Event stream client write failed")
				return
			}
		case <-closed:
			log.Debug().Msg("Event stream client disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}
