package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// NowPlayingInfo is the track metadata reported for network sources.
type NowPlayingInfo struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
}

// VideoParameters describes the incoming video signal on zone 1.
type VideoParameters struct {
	HorizontalResolution int
	VerticalResolution   int
	RefreshRate          int
	Interlaced           bool
	Colorspace           string
}

var audioFormatNames = map[byte]string{
	0x00: "PCM",
	0x01: "ANALOGUE_DIRECT",
	0x02: "DOLBY_DIGITAL",
	0x03: "DOLBY_DIGITAL_EX",
	0x05: "DOLBY_DIGITAL_PLUS",
	0x06: "DOLBY_TRUE_HD",
	0x07: "DTS",
	0x08: "DTS_96_24",
	0x0D: "DTS_HD_MASTER_AUDIO",
	0x0E: "DTS_HD_HIGH_RES",
	0x13: "PCM_ZERO",
	0x15: "UNDETECTED",
}

var audioConfigNames = map[byte]string{
	0x00: "DUAL_MONO",
	0x01: "MONO",
	0x02: "STEREO",
	0x05: "5.1",
	0x07: "7.1",
}

var audioSampleRates = map[byte]int{
	0x00: 32000,
	0x01: 44100,
	0x02: 48000,
	0x03: 88200,
	0x04: 96000,
	0x05: 176400,
	0x06: 192000,
}

var videoColorspaces = map[byte]string{
	0x00: "NORMAL",
	0x01: "RGB",
	0x02: "YCBCR_422",
	0x03: "YCBCR_444",
}

// tunerPresetNone is reported while no preset is active.
const tunerPresetNone = 0xFF

// State mirrors the device attributes of one zone. It is fed by the push
// listener registered on the client and by explicit Update calls; values
// persist across reconnects and go stale rather than being erased.
type State struct {
	client Client
	zone   ZoneNumber
	api    APIModel
	log    zerolog.Logger

	mu      sync.RWMutex
	values  map[CommandCode][]byte
	presets map[int]string

	unsub func()
}

func NewState(client Client, zone ZoneNumber, api APIModel, log zerolog.Logger) *State {
	s := &State{
		client:  client,
		zone:    zone,
		api:     api,
		log:     log.With().Str("host", client.Host()).Uint8("zone", uint8(zone)).Logger(),
		values:  make(map[CommandCode][]byte),
		presets: make(map[int]string),
	}
	s.unsub = client.Listen(s.onFrame)
	return s
}

// Close removes the push listener.
func (s *State) Close() {
	s.unsub()
}

func (s *State) Zone() ZoneNumber { return s.zone }

func (s *State) onFrame(f Frame) {
	if f.Zone != s.zone || f.AC != AnswerStatusUpdate {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.CC == CmdPresetDetail {
		if len(f.Data) >= 2 {
			s.presets[int(f.Data[0])] = cleanString(f.Data[1:])
		}
		return
	}
	s.values[f.CC] = append([]byte(nil), f.Data...)
}

func (s *State) raw(cc CommandCode) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.values[cc]
	return data, ok
}

func (s *State) byteValue(cc CommandCode) (byte, bool) {
	data, ok := s.raw(cc)
	if !ok || len(data) < 1 {
		return 0, false
	}
	return data[0], true
}

func (s *State) stringValue(cc CommandCode) (string, bool) {
	data, ok := s.raw(cc)
	if !ok {
		return "", false
	}
	value := cleanString(data)
	return value, value != ""
}

// GetPower reports the zone power state; ok is false while unknown.
func (s *State) GetPower() (bool, bool) {
	b, ok := s.byteValue(CmdPower)
	return b == 0x01, ok
}

func (s *State) GetVolume() (int, bool) {
	b, ok := s.byteValue(CmdVolume)
	return int(b), ok
}

// GetMute reports true while muted. The device reports 0x00 for muted and
// 0x01 for unmuted.
func (s *State) GetMute() (bool, bool) {
	b, ok := s.byteValue(CmdMute)
	return b == 0x00, ok
}

func (s *State) GetSource() (SourceCode, bool) {
	b, ok := s.byteValue(CmdCurrentSource)
	return SourceCode(b), ok
}

// GetSourceList returns the sources selectable on this model.
func (s *State) GetSourceList() []SourceCode {
	return sourcesByModel[s.api]
}

func (s *State) GetDecodeMode() (DecodeMode, bool) {
	b, ok := s.byteValue(CmdDecodeMode2CH)
	return DecodeMode(b), ok
}

func (s *State) GetDecodeModes() []DecodeMode {
	return []DecodeMode{
		DecodeStereo,
		DecodeDolbySurround,
		DecodeNeo6Cinema,
		DecodeNeo6Music,
		DecodeMultiChStereo,
	}
}

func (s *State) GetTunerPreset() (int, bool) {
	b, ok := s.byteValue(CmdTunerPreset)
	if !ok || b == tunerPresetNone {
		return 0, false
	}
	return int(b), true
}

// PresetDetails returns the tuner presets reported by the device.
func (s *State) PresetDetails() map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]string, len(s.presets))
	for k, v := range s.presets {
		out[k] = v
	}
	return out
}

func (s *State) GetDABStation() (string, bool)     { return s.stringValue(CmdDABStation) }
func (s *State) GetRDSInformation() (string, bool) { return s.stringValue(CmdRDSInformation) }
func (s *State) GetDLSPDT() (string, bool)         { return s.stringValue(CmdDLSPDTInfo) }

// GetNowPlaying returns track metadata; ok is false while nothing is known.
func (s *State) GetNowPlaying() (NowPlayingInfo, bool) {
	title, _ := s.stringValue(CmdNowPlayingTitle)
	artist, _ := s.stringValue(CmdNowPlayingArtist)
	album, _ := s.stringValue(CmdNowPlayingAlbum)
	info := NowPlayingInfo{Title: title, Artist: artist, Album: album}
	return info, title != "" || artist != "" || album != ""
}

func (s *State) GetIncomingAudioFormat() (string, string, bool) {
	data, ok := s.raw(CmdIncomingAudioFormat)
	if !ok || len(data) < 2 {
		return "", "", false
	}
	format, ok := audioFormatNames[data[0]]
	if !ok {
		format = fmt.Sprintf("FORMAT_0x%02X", data[0])
	}
	config, ok := audioConfigNames[data[1]]
	if !ok {
		config = fmt.Sprintf("CONFIG_0x%02X", data[1])
	}
	return format, config, true
}

func (s *State) GetIncomingAudioSampleRate() (int, bool) {
	b, ok := s.byteValue(CmdIncomingAudioSampleRate)
	if !ok {
		return 0, false
	}
	rate, ok := audioSampleRates[b]
	return rate, ok
}

func (s *State) GetIncomingVideoParameters() (VideoParameters, bool) {
	data, ok := s.raw(CmdIncomingVideoParameters)
	if !ok || len(data) < 7 {
		return VideoParameters{}, false
	}
	colorspace, ok := videoColorspaces[data[6]]
	if !ok {
		colorspace = fmt.Sprintf("COLORSPACE_0x%02X", data[6])
	}
	return VideoParameters{
		HorizontalResolution: int(data[0])<<8 | int(data[1]),
		VerticalResolution:   int(data[2])<<8 | int(data[3]),
		RefreshRate:          int(data[4]),
		Interlaced:           data[5] == 0x01,
		Colorspace:           colorspace,
	}, true
}

// Raw control values. Offsets for signed controls are applied by the
// control descriptor tables, not here.
func (s *State) GetBass() (int, bool)          { return s.intValue(CmdBassEqualisation) }
func (s *State) GetTreble() (int, bool)        { return s.intValue(CmdTrebleEqualisation) }
func (s *State) GetBalance() (int, bool)       { return s.intValue(CmdBalance) }
func (s *State) GetSubwooferTrim() (int, bool) { return s.intValue(CmdSubwooferTrim) }
func (s *State) GetLipsyncDelay() (int, bool)  { return s.intValue(CmdLipsyncDelay) }

func (s *State) GetDisplayBrightness() (int, bool) { return s.intValue(CmdDisplayBrightness) }
func (s *State) GetCompression() (int, bool)       { return s.intValue(CmdCompression) }

func (s *State) GetRoomEq() (bool, bool) {
	b, ok := s.byteValue(CmdRoomEqualisation)
	return b == 0x01, ok
}

func (s *State) intValue(cc CommandCode) (int, bool) {
	b, ok := s.byteValue(cc)
	return int(b), ok
}

func (s *State) SetPower(ctx context.Context, on bool) error {
	return s.set(ctx, CmdPower, boolByte(on))
}

func (s *State) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 || volume > 99 {
		return fmt.Errorf("volume %d out of range 0..99", volume)
	}
	return s.set(ctx, CmdVolume, byte(volume))
}

func (s *State) IncVolume(ctx context.Context) error { return s.stepVolume(ctx, 1) }
func (s *State) DecVolume(ctx context.Context) error { return s.stepVolume(ctx, -1) }

func (s *State) stepVolume(ctx context.Context, delta int) error {
	current, ok := s.GetVolume()
	if !ok {
		return fmt.Errorf("volume unknown, cannot step")
	}
	next := current + delta
	if next < 0 {
		next = 0
	}
	if next > 99 {
		next = 99
	}
	return s.SetVolume(ctx, next)
}

func (s *State) SetMute(ctx context.Context, mute bool) error {
	// Wire encoding matches the status report: 0x00 muted, 0x01 unmuted.
	return s.set(ctx, CmdMute, boolByte(!mute))
}

func (s *State) SetSource(ctx context.Context, source SourceCode) error {
	return s.set(ctx, CmdCurrentSource, byte(source))
}

func (s *State) SetDecodeMode(ctx context.Context, mode DecodeMode) error {
	return s.set(ctx, CmdDecodeMode2CH, byte(mode))
}

func (s *State) SetTunerPreset(ctx context.Context, preset int) error {
	if preset < 1 || preset > 50 {
		return fmt.Errorf("preset %d out of range 1..50", preset)
	}
	return s.set(ctx, CmdTunerPreset, byte(preset))
}

func (s *State) SetBass(ctx context.Context, raw int) error {
	return s.set(ctx, CmdBassEqualisation, byte(raw))
}

func (s *State) SetTreble(ctx context.Context, raw int) error {
	return s.set(ctx, CmdTrebleEqualisation, byte(raw))
}

func (s *State) SetBalance(ctx context.Context, raw int) error {
	return s.set(ctx, CmdBalance, byte(raw))
}

func (s *State) SetSubwooferTrim(ctx context.Context, raw int) error {
	return s.set(ctx, CmdSubwooferTrim, byte(raw))
}

func (s *State) SetLipsyncDelay(ctx context.Context, raw int) error {
	return s.set(ctx, CmdLipsyncDelay, byte(raw))
}

func (s *State) SetDisplayBrightness(ctx context.Context, level int) error {
	return s.set(ctx, CmdDisplayBrightness, byte(level))
}

func (s *State) SetCompression(ctx context.Context, level int) error {
	return s.set(ctx, CmdCompression, byte(level))
}

func (s *State) SetRoomEq(ctx context.Context, on bool) error {
	return s.set(ctx, CmdRoomEqualisation, boolByte(on))
}

func (s *State) set(ctx context.Context, cc CommandCode, value byte) error {
	_, err := s.client.Request(ctx, s.zone, cc, []byte{value})
	return err
}

// Update refreshes every attribute of the zone. Commands the device rejects
// (unsupported on this zone or model) are skipped; connection failures abort.
func (s *State) Update(ctx context.Context) error {
	return s.refresh(ctx, s.statusCommands())
}

// UpdateNowPlaying refreshes only the track metadata commands.
func (s *State) UpdateNowPlaying(ctx context.Context) error {
	return s.refresh(ctx, []CommandCode{
		CmdNowPlayingTitle,
		CmdNowPlayingArtist,
		CmdNowPlayingAlbum,
	})
}

func (s *State) refresh(ctx context.Context, commands []CommandCode) error {
	for _, cc := range commands {
		if _, err := s.client.Request(ctx, s.zone, cc, []byte{requestStatus}); err != nil {
			var respErr *ResponseError
			if errors.As(err, &respErr) {
				s.log.Debug().Err(err).Msg("Skipping unsupported command during refresh")
				continue
			}
			return err
		}
	}
	return nil
}

func (s *State) statusCommands() []CommandCode {
	commands := []CommandCode{
		CmdPower,
		CmdVolume,
		CmdMute,
		CmdCurrentSource,
		CmdTunerPreset,
		CmdDABStation,
		CmdRDSInformation,
		CmdDLSPDTInfo,
		CmdNowPlayingTitle,
		CmdNowPlayingArtist,
		CmdNowPlayingAlbum,
	}
	if s.zone == Zone1 {
		commands = append(commands,
			CmdDecodeMode2CH,
			CmdDisplayBrightness,
			CmdBassEqualisation,
			CmdTrebleEqualisation,
			CmdBalance,
			CmdSubwooferTrim,
			CmdLipsyncDelay,
			CmdCompression,
			CmdRoomEqualisation,
			CmdIncomingAudioFormat,
			CmdIncomingAudioSampleRate,
			CmdIncomingVideoParameters,
			CmdPresetDetail,
		)
	}
	return commands
}

func boolByte(v bool) byte {
	if v {
		return 0x01
	}
	return 0x00
}

// cleanString strips padding and control bytes from device-reported text.
func cleanString(data []byte) string {
	cleaned := make([]byte, 0, len(data))
	for _, b := range data {
		if b >= 0x20 && b < 0x7F {
			cleaned = append(cleaned, b)
		}
	}
	return strings.TrimSpace(string(cleaned))
}
