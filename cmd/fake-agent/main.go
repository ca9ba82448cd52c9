// ABOUTME: Minimal fake agent for E2E testing — connects via WebSocket, echoes messages with markdown.
// ABOUTME: Usage: fake-agent -token TOKEN [-relay ws://localhost:8080/v1/agent] [-name "Echo Agent"]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spawnhq/spawn-relay/pkg/spawn"
)

func main() {
	relayURL := flag.String("relay", "ws://localhost:8080/v1/agent", "Relay WebSocket URL")
	token := flag.String("token", os.Getenv("SPAWN_TOKEN"), "Agent token")
	name := flag.String("name", "Echo Agent", "Agent display name")
	flag.Parse()

	if *token == "" {
		log.Fatal("-token is required (or set SPAWN_TOKEN)")
	}

	if err := run(*relayURL, *token, *name); err != nil {
		log.Fatal(err)
	}
}

func run(relayURL, token, name string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := &spawn.Config{
		RelayURL: relayURL,
		Token:    token,
	}

	agent := &echoAgent{name: name}
	client := spawn.NewClient(cfg, agent)
	agent.client = client

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Disconnect()

	if err := client.SetStatus("idle", "Waiting for messages"); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}

	fmt.Fprintf(os.Stderr, "connected as %q, waiting for messages\n", name)

	<-ctx.Done()
	return nil
}

// echoAgent echoes every text message back with markdown formatting.
type echoAgent struct {
	name   string
	client *spawn.Client
}

func (a *echoAgent) OnConnect() {
	log.Printf("connected to relay")
}

func (a *echoAgent) OnDisconnect(err error) {
	if err != nil {
		log.Printf("disconnected: %v", err)
		return
	}
	log.Printf("disconnected")
}

func (a *echoAgent) OnMessage(msg *spawn.Message) {
	if msg.Type != "text" {
		return
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("bad text payload: %v", err)
		return
	}

	log.Printf("received message [%s]: %s", msg.ID, payload.Content)

	if strings.Contains(strings.ToLower(payload.Content), "progress") {
		go a.demoProgress()
		return
	}

	if err := a.client.SendText(echoReply(payload.Content), "markdown"); err != nil {
		log.Printf("send error: %v", err)
	}
}

// demoProgress walks a three-step progress bar so app UIs have something
// to render during testing.
func (a *echoAgent) demoProgress() {
	prog, err := a.client.StartProgress("Echoing with style", []string{"warming up", "formatting", "done"}, 3)
	if err != nil {
		log.Printf("start progress error: %v", err)
		return
	}

	for i := 1; i <= 3; i++ {
		time.Sleep(300 * time.Millisecond)
		if err := prog.Update(i, i-1, ""); err != nil {
			log.Printf("progress update error: %v", err)
			return
		}
	}

	if err := prog.Complete("All steps finished"); err != nil {
		log.Printf("progress complete error: %v", err)
	}
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote.\n"
	}
	return fmt.Sprintf("Echo: **%s**\n\nI received your message and am responding with some *formatted* text.", input)
}
