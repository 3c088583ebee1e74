package cmd

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/dayuer/scenebus/internal/config"
	"github.com/dayuer/scenebus/internal/kernel"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send kernel envelopes to a running server",
	Long: `Send JSON envelopes to the kernel socket, one per line.

  scenebus send -m '{"type":"load_parcel","payload":{"id":"s1"}}'
  scenebus send -f messages.jsonl
  scenebus send            (interactive, one envelope per line)`,
	RunE: runSend,
}

var (
	sendMessage string
	sendFile    string
	sendURL     string
)

func init() {
	sendCmd.Flags().StringVarP(&sendMessage, "message", "m", "", "Single envelope to send")
	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "File of envelopes, one per line")
	sendCmd.Flags().StringVar(&sendURL, "url", "", "Kernel websocket URL (default from config)")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	target := sendURL
	if target == "" {
		target = kernelURL(cfg.Kernel)
	}
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", target, err)
	}
	defer conn.Close()

	switch {
	case sendMessage != "":
		return sendLines(conn, strings.NewReader(sendMessage), false)
	case sendFile != "":
		f, err := os.Open(sendFile)
		if err != nil {
			return err
		}
		defer f.Close()
		return sendLines(conn, f, false)
	default:
		fmt.Println("🚌 scenebus send (one JSON envelope per line, 'exit' to quit)")
		return sendLines(conn, os.Stdin, true)
	}
}

func kernelURL(k config.KernelConfig) string {
	host := k.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	u := url.URL{Scheme: "ws", Host: host + ":" + strconv.Itoa(k.Port), Path: "/ws"}
	if k.APIKey != "" {
		u.RawQuery = url.Values{"key": {k.APIKey}}.Encode()
	}
	return u.String()
}

// sendLines writes every envelope, then pings and reports the replies that
// arrive before the pong.
func sendLines(conn *websocket.Conn, r io.Reader, interactive bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	sent := 0
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if interactive && (line == "exit" || line == "quit") {
			break
		}
		if _, err := kernel.DecodeEnvelope([]byte(line)); err != nil {
			fmt.Printf("⚠️ skipped: %v\n", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		sent++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if err := conn.WriteJSON(kernel.Envelope{Type: kernel.TypePing}); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("waiting for pong: %w", err)
		}
		switch frame["type"] {
		case "error":
			fmt.Printf("❌ %v\n", frame["error"])
		case "pong":
			fmt.Printf("✅ Sent %d envelope(s); load %v\n", sent, frame["load"])
			return nil
		}
	}
}
