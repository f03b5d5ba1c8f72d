//go:build !linux

package main

import (
	"context"
	"os"
)

// readInputDevices reads each device in its own goroutine.
// Readers stay blocked in read until their file is closed.
func readInputDevices(ctx context.Context, files []*os.File, events chan<- inputEvent, readErr chan<- error) {
	for _, f := range files {
		go readInputEvents(ctx, f, events, readErr)
	}
	<-ctx.Done()
}
