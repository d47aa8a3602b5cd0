package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/warden/pkg/protocol"
)

var flagGateway string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat with a running daemon",
	RunE: func(*cobra.Command, []string) error {
		url := fmt.Sprintf("ws://%s/ws", flagGateway)
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return fmt.Errorf("connect %s: %w (is the daemon running?)", url, err)
		}
		defer conn.Close()

		done := make(chan struct{})
		go readFrames(conn, done)

		fmt.Println("connected. /quit to exit; answer approvals with /approve <id> <decision>")
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/quit" || line == "/exit":
				return nil
			case strings.HasPrefix(line, "/approve "):
				parts := strings.Fields(line)
				if len(parts) != 3 {
					fmt.Println("usage: /approve <id> allow-once|allow-always|deny")
					continue
				}
				send(conn, protocol.New(protocol.TypeApprovalResponse, protocol.ApprovalResponsePayload{
					ApprovalID: parts[1],
					Decision:   parts[2],
				}))
			case line == "/status":
				send(conn, protocol.New(protocol.TypeSystemCommand, protocol.SystemCommandPayload{Command: "status"}))
			default:
				send(conn, protocol.New(protocol.TypeChatRequest, protocol.ChatRequestPayload{Content: line}))
			}

			select {
			case <-done:
				return fmt.Errorf("connection closed")
			default:
			}
		}
		return scanner.Err()
	},
}

func send(conn *websocket.Conn, msg *protocol.Message) {
	if err := conn.WriteJSON(msg); err != nil {
		fmt.Fprintln(os.Stderr, "send failed:", err)
	}
}

// readFrames prints server traffic. Heartbeats are dropped; everything
// else renders as a line.
func readFrames(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Parse(data)
		if err != nil {
			continue
		}

		switch msg.Type {
		case protocol.TypeHeartbeat, protocol.TypePong:
			// Too chatty for a terminal.
		case protocol.TypeChatStreamChunk:
			var p protocol.ChunkPayload
			if msg.DecodePayload(&p) == nil {
				fmt.Print(p.Text)
			}
		case protocol.TypeChatStreamDone:
			var p protocol.DonePayload
			if msg.DecodePayload(&p) == nil {
				fmt.Printf("\n[%s/%s in=%d out=%d]\n", p.Tier, p.Model, p.TokensIn, p.TokensOut)
			}
		case protocol.TypeChatError:
			var p protocol.ErrorPayload
			if msg.DecodePayload(&p) == nil {
				fmt.Printf("\nerror (%s): %s\n", p.Kind, p.Message)
			}
		case protocol.TypeChatToolCall:
			var p protocol.ToolCallPayload
			if msg.DecodePayload(&p) == nil {
				fmt.Printf("\n[tool %s ...]\n", p.Name)
			}
		case protocol.TypeApprovalRequest:
			var p protocol.ApprovalRequestPayload
			if msg.DecodePayload(&p) == nil {
				expires := time.UnixMilli(p.ExpiresAtMs).Format(time.Kitchen)
				fmt.Printf("\napproval needed: %s (%s) id=%s, expires %s\n", p.ToolName, p.Reason, p.ApprovalID, expires)
				fmt.Printf("  /approve %s allow-once|allow-always|deny\n", p.ApprovalID)
			}
		default:
			fmt.Printf("\n[%s] %s\n", msg.Type, string(msg.Payload))
		}
	}
}

func init() {
	chatCmd.Flags().StringVar(&flagGateway, "gateway", "127.0.0.1:7777", "daemon gateway address")
	rootCmd.AddCommand(chatCmd)
}
