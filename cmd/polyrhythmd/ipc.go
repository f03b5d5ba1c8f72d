package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server lets automation clients (polyctl, chat bots, scripts) drive
// the module.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "submit", "data": {"first": 3, "second": 7}}
//   - Server responds once the action has finished:
//     {"status": "ok"} or {"status": "error", "error": "msg"}
//   - {"type": "status"} answers with {"status": "ok", "state": {...}}
// ============================================================================

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string         `json:"status"`          // "ok" or "error"
	Error  string         `json:"error,omitempty"` // error message if status == "error"
	State  *StateSnapshot `json:"state,omitempty"`
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
// replyTimeout bounds how long a connection waits for an automation action to finish.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, replyTimeout time.Duration, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, events, replyTimeout, logger)
	}
}

// handleIPCConnection handles a single IPC connection
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, replyTimeout time.Duration, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		response := dispatchIPC(ctx, []byte(line), events, replyTimeout)
		if encErr := encoder.Encode(response); encErr != nil {
			logger.Error("IPC failed to send response", "error", encErr)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

// dispatchIPC parses one request line, hands it to the daemon, and waits for
// the outcome when the action reports one.
func dispatchIPC(ctx context.Context, line []byte, events chan<- Event, replyTimeout time.Duration) IPCResponse {
	ev, err := UnmarshalEvent(line)
	if err != nil {
		return IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)}
	}

	waitCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	switch e := ev.(type) {
	case RequestStateSnapshot:
		reply := make(chan StateSnapshot, 1)
		if err := sendEvent(waitCtx, events, RequestStateSnapshot{Reply: reply}); err != nil {
			return IPCResponse{Status: "error", Error: err.Error()}
		}
		select {
		case snap := <-reply:
			return IPCResponse{Status: "ok", State: &snap}
		case <-waitCtx.Done():
			return IPCResponse{Status: "error", Error: "timed out waiting for state"}
		}

	case replyable:
		reply := make(chan error, 1)
		if err := sendEvent(waitCtx, events, e.withReply(reply)); err != nil {
			return IPCResponse{Status: "error", Error: err.Error()}
		}
		select {
		case err := <-reply:
			if err != nil {
				return IPCResponse{Status: "error", Error: err.Error()}
			}
			return IPCResponse{Status: "ok"}
		case <-waitCtx.Done():
			return IPCResponse{Status: "error", Error: "timed out waiting for the module"}
		}

	default:
		if err := sendEvent(waitCtx, events, ev); err != nil {
			return IPCResponse{Status: "error", Error: err.Error()}
		}
		return IPCResponse{Status: "ok"}
	}
}

func sendEvent(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return errors.New("event queue full")
	}
}
