package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
)

// Frame layout on the wire:
//
//	request:  St(0x21) Zn Cc Dl <data> Et(0x0D)
//	response: St(0x21) Zn Cc Ac Dl <data> Et(0x0D)
const (
	frameStart byte = 0x21
	frameEnd   byte = 0x0D
)

// requestStatus is the data byte asking the device to report the current
// value of a command instead of setting it.
const requestStatus byte = 0xF0

// ErrConnectionFailed marks socket-level failures and protocol rejections
// that mean the session is unusable. The supervisor classifies on it.
var ErrConnectionFailed = errors.New("connection failed")

// ErrCommandFailed is surfaced to callers of write commands when the
// underlying session dropped mid-command.
var ErrCommandFailed = errors.New("command failed")

type ZoneNumber byte

const (
	Zone1 ZoneNumber = 1
	Zone2 ZoneNumber = 2
)

type CommandCode byte

const (
	CmdPower                   CommandCode = 0x00
	CmdDisplayBrightness       CommandCode = 0x01
	CmdSoftwareVersion         CommandCode = 0x04
	CmdVolume                  CommandCode = 0x0D
	CmdMute                    CommandCode = 0x0E
	CmdDecodeMode2CH           CommandCode = 0x10
	CmdDecodeModeMCH           CommandCode = 0x11
	CmdDABStation              CommandCode = 0x16
	CmdRDSInformation          CommandCode = 0x18
	CmdDLSPDTInfo              CommandCode = 0x1A
	CmdTunerPreset             CommandCode = 0x1B
	CmdPresetDetail            CommandCode = 0x1C
	CmdCurrentSource           CommandCode = 0x1D
	CmdTrebleEqualisation      CommandCode = 0x35
	CmdBassEqualisation        CommandCode = 0x36
	CmdRoomEqualisation        CommandCode = 0x37
	CmdBalance                 CommandCode = 0x3B
	CmdCompression             CommandCode = 0x3E
	CmdIncomingVideoParameters CommandCode = 0x3F
	CmdIncomingAudioFormat     CommandCode = 0x40
	CmdIncomingAudioSampleRate CommandCode = 0x41
	CmdSubwooferTrim           CommandCode = 0x42
	CmdLipsyncDelay            CommandCode = 0x43
	CmdNowPlayingTitle         CommandCode = 0x64
	CmdNowPlayingArtist        CommandCode = 0x65
	CmdNowPlayingAlbum         CommandCode = 0x66
)

type AnswerCode byte

const (
	AnswerStatusUpdate         AnswerCode = 0x00
	AnswerZoneInvalid          AnswerCode = 0x82
	AnswerCommandNotRecognised AnswerCode = 0x83
	AnswerParameterOutOfRange  AnswerCode = 0x84
	AnswerCommandInvalidNow    AnswerCode = 0x85
	AnswerInvalidDataLength    AnswerCode = 0x86
)

// ResponseError reports a device rejection of a single command. It is not a
// connection failure; the session stays usable.
type ResponseError struct {
	CC CommandCode
	AC AnswerCode
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("device rejected command 0x%02X with answer 0x%02X", byte(e.CC), byte(e.AC))
}

type SourceCode byte

const (
	SourceFollowZone1 SourceCode = 0x00
	SourceCD          SourceCode = 0x01
	SourceBD          SourceCode = 0x02
	SourceAV          SourceCode = 0x03
	SourceSAT         SourceCode = 0x04
	SourcePVR         SourceCode = 0x05
	SourceVCR         SourceCode = 0x06
	SourceAUX         SourceCode = 0x08
	SourceDisplay     SourceCode = 0x09
	SourceTunerFM     SourceCode = 0x0B
	SourceTunerDAB    SourceCode = 0x0C
	SourceMCH         SourceCode = 0x0D
	SourceNET         SourceCode = 0x0E
	SourceUSB         SourceCode = 0x0F
	SourceSTB         SourceCode = 0x10
	SourceGame        SourceCode = 0x11
	SourcePhono       SourceCode = 0x12
	SourceBT          SourceCode = 0x13
	SourceUHD         SourceCode = 0x14
	SourceNetUSB      SourceCode = 0x15
)

var sourceNames = map[SourceCode]string{
	SourceFollowZone1: "FOLLOW_ZONE_1",
	SourceCD:          "CD",
	SourceBD:          "BD",
	SourceAV:          "AV",
	SourceSAT:         "SAT",
	SourcePVR:         "PVR",
	SourceVCR:         "VCR",
	SourceAUX:         "AUX",
	SourceDisplay:     "DISPLAY",
	SourceTunerFM:     "FM",
	SourceTunerDAB:    "DAB",
	SourceMCH:         "MCH",
	SourceNET:         "NET",
	SourceUSB:         "USB",
	SourceSTB:         "STB",
	SourceGame:        "GAME",
	SourcePhono:       "PHONO",
	SourceBT:          "BT",
	SourceUHD:         "UHD",
	SourceNetUSB:      "NET_USB",
}

func (s SourceCode) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SOURCE_0x%02X", byte(s))
}

// SourceByName resolves the wire code for a source label.
func SourceByName(name string) (SourceCode, bool) {
	for code, n := range sourceNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}

// Network sources push no track metadata; the poller has to ask for it.
func (s SourceCode) IsNetwork() bool {
	switch s {
	case SourceNET, SourceUSB, SourceBT, SourceNetUSB:
		return true
	}
	return false
}

type DecodeMode byte

const (
	DecodeStereo        DecodeMode = 0x01
	DecodeDolbySurround DecodeMode = 0x02
	DecodeNeo6Cinema    DecodeMode = 0x03
	DecodeNeo6Music     DecodeMode = 0x04
	DecodeMultiChStereo DecodeMode = 0x05
)

var decodeModeNames = map[DecodeMode]string{
	DecodeStereo:        "STEREO",
	DecodeDolbySurround: "DOLBY_SURROUND",
	DecodeNeo6Cinema:    "DTS_NEO6_CINEMA",
	DecodeNeo6Music:     "DTS_NEO6_MUSIC",
	DecodeMultiChStereo: "MULTI_CHANNEL_STEREO",
}

func (m DecodeMode) String() string {
	if name, ok := decodeModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MODE_0x%02X", byte(m))
}

func DecodeModeByName(name string) (DecodeMode, bool) {
	for mode, n := range decodeModeNames {
		if n == name {
			return mode, true
		}
	}
	return 0, false
}

// APIModel selects the protocol dialect tables. Only cosmetic naming and the
// selectable source list depend on it; an unknown model falls back to the
// 450 series.
type APIModel int

const (
	API450Series APIModel = iota
	API860Series
	APIHDASeries
	APISASeries
	APIPASeries
	APISTSeries
)

var apiModelSeries = map[APIModel][]string{
	APIHDASeries: {"AVR5", "AVR10", "AVR11", "AVR20", "AVR21", "AVR30", "AVR31", "AV40", "AV41"},
	API860Series: {"AV860", "AVR850", "AVR550", "AVR390", "SR250"},
	API450Series: {"AVR450", "AVR750", "AVR380", "AV888"},
	APISASeries:  {"SA10", "SA20", "SA30"},
	APIPASeries:  {"PA720", "PA240", "PA410"},
	APISTSeries:  {"ST60"},
}

func resolveAPIModel(model string) APIModel {
	for api, models := range apiModelSeries {
		for _, m := range models {
			if strings.EqualFold(m, model) {
				return api
			}
		}
	}
	return API450Series
}

var sourcesByModel = map[APIModel][]SourceCode{
	API450Series: {
		SourceCD, SourceBD, SourceAV, SourceSAT, SourcePVR, SourceVCR,
		SourceAUX, SourceDisplay, SourceTunerFM, SourceTunerDAB, SourceMCH,
		SourceNET, SourceUSB, SourceSTB, SourceGame,
	},
	API860Series: {
		SourceCD, SourceBD, SourceAV, SourceSAT, SourcePVR, SourceAUX,
		SourceDisplay, SourceTunerFM, SourceTunerDAB, SourceNET, SourceUSB,
		SourceSTB, SourceGame, SourceUHD, SourceBT,
	},
	APIHDASeries: {
		SourceCD, SourceBD, SourceAV, SourceSAT, SourcePVR, SourceAUX,
		SourceDisplay, SourceTunerFM, SourceTunerDAB, SourceNET, SourceSTB,
		SourceGame, SourceUHD, SourceBT, SourceNetUSB,
	},
	APISASeries: {
		SourceCD, SourceAUX, SourcePhono, SourceNET, SourceBT,
	},
	APIPASeries: {},
	APISTSeries: {
		SourceNET, SourceUSB,
	},
}

// Frame is one decoded protocol message. Responses carry an answer code,
// requests do not.
type Frame struct {
	Zone ZoneNumber
	CC   CommandCode
	AC   AnswerCode
	Data []byte
}

func encodeRequest(zn ZoneNumber, cc CommandCode, data []byte) []byte {
	buf := make([]byte, 0, 5+len(data))
	buf = append(buf, frameStart, byte(zn), byte(cc), byte(len(data)))
	buf = append(buf, data...)
	return append(buf, frameEnd)
}

// readFrame reads the next response frame from the stream. AMX Duet beacon
// lines ("AMXB<-Key=Value>...") share the stream with binary frames; they
// are returned as a non-empty beacon string with a zero frame.
func readFrame(r *bufio.Reader) (Frame, string, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, "", err
		}
		switch b {
		case frameStart:
			return decodeFrameBody(r)
		case 'A':
			line, err := r.ReadString('\r')
			if err != nil {
				return Frame{}, "", err
			}
			line = "A" + strings.TrimSuffix(line, "\r")
			if strings.HasPrefix(line, "AMXB") {
				return Frame{}, line, nil
			}
			// Unrecognised text line, keep scanning.
		default:
			// Garbage between frames, keep scanning.
		}
	}
}

func decodeFrameBody(r *bufio.Reader) (Frame, string, error) {
	header := make([]byte, 4)
	if _, err := readFull(r, header); err != nil {
		return Frame{}, "", err
	}
	f := Frame{
		Zone: ZoneNumber(header[0]),
		CC:   CommandCode(header[1]),
		AC:   AnswerCode(header[2]),
	}
	length := int(header[3])
	f.Data = make([]byte, length)
	if _, err := readFull(r, f.Data); err != nil {
		return Frame{}, "", err
	}
	end, err := r.ReadByte()
	if err != nil {
		return Frame{}, "", err
	}
	if end != frameEnd {
		return Frame{}, "", fmt.Errorf("%w: missing frame terminator", ErrConnectionFailed)
	}
	return f, "", nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// DuetInfo is the parsed AMX Duet discovery beacon.
type DuetInfo struct {
	SDKClass string
	Make     string
	Model    string
	Revision string
}

const amxDuetRequest = "AMX\r"

// parseDuetBeacon parses a beacon of the form
// "AMXB<-SDKClass=Receiver><-Make=ARCAM><-Model=AVR450><-Revision=1.0>".
func parseDuetBeacon(line string) (DuetInfo, error) {
	if !strings.HasPrefix(line, "AMXB") {
		return DuetInfo{}, fmt.Errorf("not an AMX beacon: %q", line)
	}
	info := DuetInfo{}
	rest := line[len("AMXB"):]
	for _, part := range strings.Split(rest, "><") {
		part = strings.Trim(part, "<>")
		part = strings.TrimPrefix(part, "-")
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch key {
		case "SDKClass":
			info.SDKClass = value
		case "Make":
			info.Make = value
		case "Model":
			info.Model = value
		case "Revision":
			info.Revision = value
		}
	}
	if info.Model == "" {
		return DuetInfo{}, fmt.Errorf("beacon carries no model: %q", line)
	}
	return info, nil
}
