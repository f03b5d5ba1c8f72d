package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// reportReadErr hands err to runInput. Several readers share readErr and only
// the first error matters, so later ones are dropped rather than blocking.
func reportReadErr(readErr chan<- error, err error) {
	select {
	case readErr <- err:
	default:
	}
}

// readInputEvents reads input events from a single device and sends them to a channel.
// It blocks on read and returns after the first read error or once ctx is done.
func readInputEvents(ctx context.Context, f *os.File, events chan<- inputEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			reportReadErr(readErr, fmt.Errorf("read from %s: %w", f.Name(), err))
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// translateInput maps a raw key event onto Press/Release for the configured key.
// Autorepeat is ignored: holding the button is a single press.
func translateInput(ev inputEvent, keyCode uint16) (Event, bool) {
	if ev.Type != EV_KEY || ev.Code != keyCode {
		return nil, false
	}
	switch ev.Value {
	case evValuePress:
		return Press{}, true
	case evValueRelease:
		return Release{}, true
	case evValueRepeat:
		return nil, false
	default:
		return nil, false
	}
}

// runInput opens the configured evdev devices and forwards button presses and
// releases to the daemon until ctx is canceled or a device fails.
func runInput(ctx context.Context, devices []string, keyCode uint16, out chan<- Event, logger *slog.Logger) error {
	files := make([]*os.File, 0, len(devices))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, dev := range devices {
		f, err := os.Open(dev)
		if err != nil {
			return fmt.Errorf("open input device %s (run as root or add user to 'input' group): %w", dev, err)
		}
		files = append(files, f)
	}

	events := make(chan inputEvent, 64)
	readErr := make(chan error, 1)
	go readInputDevices(ctx, files, events, readErr)

	logger.Info("input listening", "devices", devices, "key_code", keyCode)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("input reader stopped: %w", err)

		case ev := <-events:
			act, ok := translateInput(ev, keyCode)
			if !ok {
				continue
			}
			select {
			case out <- act:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
