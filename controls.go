package main

import (
	"context"
	"errors"
	"fmt"
)

// Control descriptors map API keys to typed accessors on a zone state.
// The tables are static; each entry carries the getter, setter and the
// raw-byte offset for signed values. The protocol stores signed controls
// as unsigned bytes with a fixed offset, e.g. bass 0x00 = -14, 0x0E = 0.

type NumberControl struct {
	Key    string
	Min    int
	Max    int
	Step   int
	Unit   string
	Offset int
	get    func(*State) (int, bool)
	set    func(*State, context.Context, int) error
}

// Value returns the user-facing value with the offset removed.
func (c NumberControl) Value(s *State) (int, bool) {
	raw, ok := c.get(s)
	if !ok {
		return 0, false
	}
	return raw - c.Offset, true
}

// Set writes a user-facing value, applying bounds and the raw offset. A
// lost connection surfaces as ErrCommandFailed so the caller knows the
// action did not take effect.
func (c NumberControl) Set(ctx context.Context, s *State, value int) error {
	if value < c.Min || value > c.Max {
		return fmt.Errorf("%s value %d out of range %d..%d", c.Key, value, c.Min, c.Max)
	}
	return commandResult(c.Key, c.set(s, ctx, value+c.Offset))
}

var numberControls = []NumberControl{
	{
		Key: "bass", Min: -14, Max: 14, Step: 1, Offset: 14,
		get: (*State).GetBass,
		set: (*State).SetBass,
	},
	{
		Key: "treble", Min: -14, Max: 14, Step: 1, Offset: 14,
		get: (*State).GetTreble,
		set: (*State).SetTreble,
	},
	{
		Key: "balance", Min: -13, Max: 13, Step: 1, Offset: 13,
		get: (*State).GetBalance,
		set: (*State).SetBalance,
	},
	{
		Key: "subwoofer_trim", Min: -14, Max: 14, Step: 1, Unit: "dB", Offset: 14,
		get: (*State).GetSubwooferTrim,
		set: (*State).SetSubwooferTrim,
	},
	{
		Key: "lipsync_delay", Min: 0, Max: 200, Step: 5, Unit: "ms", Offset: 0,
		get: (*State).GetLipsyncDelay,
		set: (*State).SetLipsyncDelay,
	},
}

type SelectControl struct {
	Key     string
	Options map[int]string
	get     func(*State) (int, bool)
	set     func(*State, context.Context, int) error
}

func (c SelectControl) Current(s *State) (string, bool) {
	raw, ok := c.get(s)
	if !ok {
		return "", false
	}
	label, ok := c.Options[raw]
	return label, ok
}

func (c SelectControl) Set(ctx context.Context, s *State, option string) error {
	for raw, label := range c.Options {
		if label == option {
			return commandResult(c.Key, c.set(s, ctx, raw))
		}
	}
	return fmt.Errorf("unknown option %q for %s", option, c.Key)
}

// OptionList returns the labels in protocol-value order.
func (c SelectControl) OptionList() []string {
	labels := make([]string, 0, len(c.Options))
	for raw := 0; len(labels) < len(c.Options); raw++ {
		if label, ok := c.Options[raw]; ok {
			labels = append(labels, label)
		}
	}
	return labels
}

var selectControls = []SelectControl{
	{
		Key: "display_brightness",
		Options: map[int]string{
			0: "Off",
			1: "Level 1",
			2: "Level 2",
			3: "Level 3",
		},
		get: (*State).GetDisplayBrightness,
		set: (*State).SetDisplayBrightness,
	},
	{
		Key: "compression",
		Options: map[int]string{
			0: "Off",
			1: "Light",
			2: "Medium",
			3: "Heavy",
		},
		get: (*State).GetCompression,
		set: (*State).SetCompression,
	},
}

type SwitchControl struct {
	Key string
	get func(*State) (bool, bool)
	set func(*State, context.Context, bool) error
}

func (c SwitchControl) IsOn(s *State) (bool, bool) {
	return c.get(s)
}

func (c SwitchControl) Set(ctx context.Context, s *State, on bool) error {
	return commandResult(c.Key, c.set(s, ctx, on))
}

var switchControls = []SwitchControl{
	{
		Key: "room_eq",
		get: (*State).GetRoomEq,
		set: (*State).SetRoomEq,
	},
}

func findNumberControl(key string) (NumberControl, bool) {
	for _, c := range numberControls {
		if c.Key == key {
			return c, true
		}
	}
	return NumberControl{}, false
}

func findSelectControl(key string) (SelectControl, bool) {
	for _, c := range selectControls {
		if c.Key == key {
			return c, true
		}
	}
	return SelectControl{}, false
}

func findSwitchControl(key string) (SwitchControl, bool) {
	for _, c := range switchControls {
		if c.Key == key {
			return c, true
		}
	}
	return SwitchControl{}, false
}

// commandResult maps a lost-connection failure during a write command into
// the caller-facing error kind. Other errors pass through unchanged.
func commandResult(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConnectionFailed) {
		return fmt.Errorf("%w: connection failed to device during %s", ErrCommandFailed, op)
	}
	return err
}
