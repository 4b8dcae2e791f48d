package main

import "fmt"

// Device bundles everything owned for one configured receiver: the
// transport client, the two zone state mirrors and the supervisor.
type Device struct {
	Name    string
	Model   string
	client  Client
	zone1   *State
	zone2   *State
	artwork *ArtworkLookup
	sup     *Supervisor
}

func (d *Device) Host() string { return d.client.Host() }

func (d *Device) zoneState(zn ZoneNumber) *State {
	switch zn {
	case Zone1:
		return d.zone1
	case Zone2:
		return d.zone2
	}
	return nil
}

// DeviceStatus is the API snapshot of one receiver.
type DeviceStatus struct {
	Name      string                `json:"name"`
	Host      string                `json:"host"`
	Model     string                `json:"model,omitempty"`
	Connected bool                  `json:"connected"`
	Zones     map[string]ZoneStatus `json:"zones"`
}

// ZoneStatus is the API snapshot of one zone. Nil pointers mean the value
// is unknown, typically while the device is unreachable or in standby.
type ZoneStatus struct {
	Power        *bool           `json:"power"`
	Volume       *int            `json:"volume"`
	Mute         *bool           `json:"mute"`
	Source       string          `json:"source,omitempty"`
	SourceList   []string        `json:"source_list,omitempty"`
	SoundMode    string          `json:"sound_mode,omitempty"`
	SoundModes   []string        `json:"sound_modes,omitempty"`
	TunerPreset  *int            `json:"tuner_preset,omitempty"`
	MediaTitle   string          `json:"media_title,omitempty"`
	MediaChannel string          `json:"media_channel,omitempty"`
	NowPlaying   *NowPlayingInfo `json:"now_playing,omitempty"`
	Diagnostics  *Diagnostics    `json:"diagnostics,omitempty"`
}

// Diagnostics reports the incoming signal parameters of zone 1.
type Diagnostics struct {
	AudioFormat      string `json:"audio_format,omitempty"`
	AudioConfig      string `json:"audio_config,omitempty"`
	AudioSampleRate  int    `json:"audio_sample_rate,omitempty"`
	VideoResolution  string `json:"video_resolution,omitempty"`
	VideoRefreshRate string `json:"video_refresh_rate,omitempty"`
	VideoColorspace  string `json:"video_colorspace,omitempty"`
	VideoScanMode    string `json:"video_scan_mode,omitempty"`
}

func (d *Device) status(zone2Enabled bool) DeviceStatus {
	status := DeviceStatus{
		Name:      d.Name,
		Host:      d.Host(),
		Model:     d.Model,
		Connected: d.client.Connected(),
		Zones:     map[string]ZoneStatus{"1": zoneStatus(d.zone1)},
	}
	if zone2Enabled {
		status.Zones["2"] = zoneStatus(d.zone2)
	}
	return status
}

func zoneStatus(s *State) ZoneStatus {
	zs := ZoneStatus{}
	if power, ok := s.GetPower(); ok {
		zs.Power = &power
	}
	if volume, ok := s.GetVolume(); ok {
		zs.Volume = &volume
	}
	if mute, ok := s.GetMute(); ok {
		zs.Mute = &mute
	}

	source, sourceKnown := s.GetSource()
	if sourceKnown {
		zs.Source = source.String()
	}
	for _, src := range s.GetSourceList() {
		zs.SourceList = append(zs.SourceList, src.String())
	}

	if s.Zone() == Zone1 {
		if mode, ok := s.GetDecodeMode(); ok {
			zs.SoundMode = mode.String()
		}
		for _, mode := range s.GetDecodeModes() {
			zs.SoundModes = append(zs.SoundModes, mode.String())
		}
		zs.Diagnostics = diagnostics(s)
	}

	if preset, ok := s.GetTunerPreset(); ok {
		zs.TunerPreset = &preset
	}

	if sourceKnown {
		zs.MediaChannel = mediaChannel(s, source)
		zs.MediaTitle = mediaTitle(s, source, zs.MediaChannel)
		if source.IsNetwork() {
			if info, ok := s.GetNowPlaying(); ok {
				zs.NowPlaying = &info
			}
		}
	}
	return zs
}

func mediaChannel(s *State, source SourceCode) string {
	switch source {
	case SourceTunerDAB:
		channel, _ := s.GetDABStation()
		return channel
	case SourceTunerFM:
		channel, _ := s.GetRDSInformation()
		return channel
	}
	return ""
}

func mediaTitle(s *State, source SourceCode, channel string) string {
	if source.IsNetwork() {
		if info, ok := s.GetNowPlaying(); ok && info.Title != "" {
			return info.Title
		}
	}
	if channel != "" {
		return fmt.Sprintf("%s - %s", source, channel)
	}
	return source.String()
}

func diagnostics(s *State) *Diagnostics {
	diag := &Diagnostics{}
	populated := false

	if format, config, ok := s.GetIncomingAudioFormat(); ok {
		diag.AudioFormat = format
		diag.AudioConfig = config
		populated = true
	}
	if rate, ok := s.GetIncomingAudioSampleRate(); ok {
		diag.AudioSampleRate = rate
		populated = true
	}
	if video, ok := s.GetIncomingVideoParameters(); ok {
		diag.VideoResolution = fmt.Sprintf("%dx%d", video.HorizontalResolution, video.VerticalResolution)
		diag.VideoRefreshRate = fmt.Sprintf("%d", video.RefreshRate)
		diag.VideoColorspace = video.Colorspace
		if video.Interlaced {
			diag.VideoScanMode = "Interlaced"
		} else {
			diag.VideoScanMode = "Progressive"
		}
		populated = true
	}
	if !populated {
		return nil
	}
	return diag
}
