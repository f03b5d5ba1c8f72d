package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// ============================================================================
// polyctl - Command-line IPC Client
// ============================================================================
// This tool sends events to the polyrhythmd daemon via IPC.
//
// Usage:
//   polyctl press
//   polyctl submit 3 7
//   polyctl solve
//   polyctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/polyrhythmd.sock)
// ============================================================================

// EventEnvelope wraps events for JSON
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response. State is kept raw so the
// client doesn't need the daemon's types.
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

type submitData struct {
	First  int `json:"first"`
	Second int `json:"second"`
}

type digitData struct {
	Digit int `json:"digit"`
}

// force-solve can take a full replay of all remaining stages.
const replyDeadline = 5 * time.Minute

func main() {
	socketPath := "/tmp/polyrhythmd.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var env EventEnvelope

	switch args[0] {
	case "press":
		env.Type = "press"

	case "play", "p":
		env.Type = "play"

	case "submit", "s":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "error: submit requires two digits\n")
			os.Exit(1)
		}
		first, err := parseDigit(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		second, err := parseDigit(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		env.Type = "submit"
		env.Data = mustMarshal(submitData{First: first, Second: second})

	case "hold", "h":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: hold requires a digit\n")
			os.Exit(1)
		}
		d, err := parseDigit(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		env.Type = "hold"
		env.Data = mustMarshal(digitData{Digit: d})

	// A bare release lets go of the button now; with a digit it waits for the clock.
	case "release", "r":
		if len(args) < 2 {
			env.Type = "release"
			break
		}
		d, err := parseDigit(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		env.Type = "release_at"
		env.Data = mustMarshal(digitData{Digit: d})

	case "solve", "force-solve":
		env.Type = "solve"

	case "cancel":
		env.Type = "cancel"

	case "status":
		env.Type = "status"

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	resp, err := sendEvent(socketPath, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(resp.State) > 0 {
		var pretty any
		if err := json.Unmarshal(resp.State, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return
		}
	}
	fmt.Println("ok")
}

func parseDigit(s string) (int, error) {
	d, err := strconv.Atoi(s)
	if err != nil || d < 0 || d > 9 {
		return 0, fmt.Errorf("invalid digit %q (want 0-9)", s)
	}
	return d, nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func sendEvent(socketPath string, env EventEnvelope) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(replyDeadline)); err != nil {
		return IPCResponse{}, fmt.Errorf("set deadline: %w", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal event: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send event: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `polyctl - Control the polyrhythmd daemon via IPC

Usage:
  polyctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/polyrhythmd.sock)

Commands:
  press                   Press the button now
  release, r [d]          Release the button now, or when the clock shows digit d
  play, p                 Start a rhythm round
  submit, s <a> <b>       Hold at clock digit a, release at digit b
  hold, h <d>             Hold the button when the clock shows digit d
  solve, force-solve      Solve the module by replaying every remaining stage
  cancel                  Cancel queued automation
  status                  Print the module state
  help, -h, --help        Show this help message

Examples:
  polyctl press
  polyctl submit 4 9
  polyctl -socket /run/polyrhythmd.sock status
`)
}
