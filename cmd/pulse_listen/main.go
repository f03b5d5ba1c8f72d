package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL     = flag.String("ws", "ws://127.0.0.1:3002/ws", "polyrhythmd state websocket URL")
		press     = flag.Bool("press", false, "Send a press/release pair after connecting and keep listening")
		showAlpha = flag.Bool("alpha", false, "Print pulse_alpha fade frames")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	if *press {
		sendEvent(conn, &writeMu, "press")
		sendEvent(conn, &writeMu, "release")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			// The server pings us; any frame proves the connection is alive.
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch messageType {
			case websocket.TextMessage:
				handleTextMessage(message, *showAlpha)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			case websocket.CloseMessage:
				fmt.Printf("[CLOSE]\n")
				return
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage prints one state frame.
func handleTextMessage(message []byte, showAlpha bool) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	switch env.Type {
	case "state_init":
		var state map[string]any
		if err := json.Unmarshal(env.Data, &state); err != nil {
			fmt.Printf("[STATE] %s\n", string(env.Data))
			return
		}
		prettyJSON, _ := json.MarshalIndent(state, "", "  ")
		fmt.Printf("[STATE]\n%s\n\n", string(prettyJSON))

	case "sound":
		var d struct {
			Cue string `json:"cue"`
		}
		_ = json.Unmarshal(env.Data, &d)
		fmt.Printf("%s [SOUND] %s\n", stamp(env.Ts), d.Cue)

	case "pulse":
		var d struct {
			ID       uint64  `json:"id"`
			Duration float64 `json:"duration"`
			Symbol   string  `json:"symbol"`
			Color    string  `json:"color"`
		}
		_ = json.Unmarshal(env.Data, &d)
		fmt.Printf("%s [PULSE] #%d %s %s %.2fs\n", stamp(env.Ts), d.ID, d.Color, d.Symbol, d.Duration)

	case "pulse_alpha":
		if !showAlpha {
			return
		}
		fmt.Printf("%s [ALPHA] %s\n", stamp(env.Ts), string(env.Data))

	case "mode":
		var d struct {
			Mode    string `json:"mode"`
			Stage   int    `json:"stage"`
			Correct int    `json:"correct"`
			Strikes int    `json:"strikes"`
		}
		_ = json.Unmarshal(env.Data, &d)
		fmt.Printf("%s [MODE] %s stage=%d correct=%d strikes=%d\n", stamp(env.Ts), d.Mode, d.Stage, d.Correct, d.Strikes)

	default:
		fmt.Printf("%s [%s] %s\n", stamp(env.Ts), env.Type, string(env.Data))
	}
}

func stamp(ts *time.Time) string {
	if ts == nil {
		return "--:--:--.---"
	}
	return ts.Local().Format("15:04:05.000")
}

// sendEvent sends a bare event frame to the server (thread-safe)
func sendEvent(conn *websocket.Conn, writeMu *sync.Mutex, typ string) {
	payload, err := json.Marshal(envelope{Type: typ})
	if err != nil {
		log.Printf("error marshaling event: %v", err)
		return
	}

	writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	writeMu.Unlock()

	if err != nil {
		log.Printf("error sending event: %v", err)
	}
}
