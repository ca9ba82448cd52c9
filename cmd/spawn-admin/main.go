// ABOUTME: Admin CLI for spawn-relay identity management
// ABOUTME: Provisions identities, rotates tokens, and inspects live rooms

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

type identity struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type tokenPair struct {
	AgentToken string `json:"agent_token"`
	AppToken   string `json:"app_token"`
}

type roomStatus struct {
	AgentConnected     bool       `json:"agent_connected"`
	AppConnectionCount int        `json:"app_connection_count"`
	AgentConnectedAt   *time.Time `json:"agent_connected_at"`
	MessageCount       int64      `json:"message_count"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: spawn-admin <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  create --name NAME [--owner ID]  Provision an identity and token pair")
		fmt.Println("  list                             List identities")
		fmt.Println("  status ID                        Show identity and live room status")
		fmt.Println("  set-policy ID FILE               Replace an identity's policy from a JSON file")
		fmt.Println("  rotate ID                        Rotate tokens and disconnect live sockets")
		fmt.Println("  delete ID                        Delete an identity")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  SPAWN_RELAY_URL    Relay base URL (default http://localhost:8080)")
		fmt.Println("  SPAWN_ADMIN_TOKEN  Admin bearer token (required)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := &client{
		baseURL: strings.TrimSuffix(getEnv("SPAWN_RELAY_URL", "http://localhost:8080"), "/"),
		token:   os.Getenv("SPAWN_ADMIN_TOKEN"),
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(ctx, c, os.Args[2:])
	case "list":
		err = runList(ctx, c)
	case "status":
		err = runStatus(ctx, c, os.Args[2:])
	case "set-policy":
		err = runSetPolicy(ctx, c, os.Args[2:])
	case "rotate":
		err = runRotate(ctx, c, os.Args[2:])
	case "delete":
		err = runDelete(ctx, c, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// client is a thin authenticated HTTP wrapper over the relay's admin API.
type client struct {
	baseURL string
	token   string
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	if c.token == "" {
		return fmt.Errorf("SPAWN_ADMIN_TOKEN is not set")
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func runCreate(ctx context.Context, c *client, args []string) error {
	var name, owner string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			name = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			name = strings.TrimPrefix(arg, "--name=")
		case arg == "--owner":
			if i+1 >= len(args) {
				return fmt.Errorf("--owner requires a value")
			}
			owner = args[i+1]
			i++
		case strings.HasPrefix(arg, "--owner="):
			owner = strings.TrimPrefix(arg, "--owner=")
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("--name flag is required")
	}

	var resp struct {
		Identity identity  `json:"identity"`
		Tokens   tokenPair `json:"tokens"`
	}
	req := map[string]string{"display_name": name, "owner_id": owner}
	if err := c.do(ctx, http.MethodPost, "/admin/identities", req, &resp); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	green.Printf("  ✓ Created identity: %s\n", resp.Identity.DisplayName)
	fmt.Println()
	cyan.Println("  Identity")
	cyan.Println("  --------")
	fmt.Printf("  ID:           %s\n", resp.Identity.ID)
	fmt.Printf("  Display Name: %s\n", resp.Identity.DisplayName)
	if resp.Identity.OwnerID != "" {
		fmt.Printf("  Owner:        %s\n", resp.Identity.OwnerID)
	}
	fmt.Println()
	cyan.Println("  Tokens (store these now, they are not retrievable later)")
	cyan.Println("  --------------------------------------------------------")
	fmt.Printf("  Agent: %s\n", resp.Tokens.AgentToken)
	fmt.Printf("  App:   %s\n", resp.Tokens.AppToken)
	fmt.Println()

	return nil
}

func runList(ctx context.Context, c *client) error {
	var resp struct {
		Identities []identity `json:"identities"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/identities", nil, &resp); err != nil {
		return err
	}

	if len(resp.Identities) == 0 {
		fmt.Println("(no identities)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tOWNER\tCREATED")
	fmt.Fprintln(w, "--\t----\t-----\t-------")
	for _, id := range resp.Identities {
		owner := id.OwnerID
		if owner == "" {
			owner = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id.ID, id.DisplayName, owner, id.CreatedAt.Format("Jan 02 15:04"))
	}
	return w.Flush()
}

func runStatus(ctx context.Context, c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: spawn-admin status ID")
	}

	var resp struct {
		Identity identity   `json:"identity"`
		Room     roomStatus `json:"room"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/identities/"+args[0], nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	cyan.Println("  Identity")
	cyan.Println("  --------")
	fmt.Printf("  ID:           %s\n", resp.Identity.ID)
	fmt.Printf("  Display Name: %s\n", resp.Identity.DisplayName)
	fmt.Printf("  Created:      %s\n", resp.Identity.CreatedAt.Format("Jan 02, 2006 15:04"))
	fmt.Println()

	cyan.Println("  Room")
	cyan.Println("  ----")
	fmt.Print("  Agent:    ")
	if resp.Room.AgentConnected {
		green.Print("online")
		if resp.Room.AgentConnectedAt != nil {
			gray.Printf(" (since %s)", resp.Room.AgentConnectedAt.Format("15:04:05"))
		}
		fmt.Println()
	} else {
		gray.Println("offline")
	}
	fmt.Printf("  Apps:     %d\n", resp.Room.AppConnectionCount)
	fmt.Printf("  Messages: %d\n", resp.Room.MessageCount)
	fmt.Println()

	return nil
}

func runSetPolicy(ctx context.Context, c *client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: spawn-admin set-policy ID FILE")
	}

	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}

	var doc json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("policy file is not valid JSON: %w", err)
	}

	if err := c.do(ctx, http.MethodPut, "/admin/identities/"+args[0]+"/policy", doc, nil); err != nil {
		return err
	}

	color.New(color.FgGreen).Printf("  ✓ Policy updated for %s\n", args[0])
	return nil
}

func runRotate(ctx context.Context, c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: spawn-admin rotate ID")
	}

	var resp struct {
		Tokens tokenPair `json:"tokens"`
	}
	if err := c.do(ctx, http.MethodPost, "/admin/identities/"+args[0]+"/tokens", nil, &resp); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	green.Printf("  ✓ Tokens rotated for %s (previous tokens are now invalid)\n", args[0])
	fmt.Println()
	cyan.Println("  Tokens (store these now, they are not retrievable later)")
	cyan.Println("  --------------------------------------------------------")
	fmt.Printf("  Agent: %s\n", resp.Tokens.AgentToken)
	fmt.Printf("  App:   %s\n", resp.Tokens.AppToken)
	fmt.Println()

	return nil
}

func runDelete(ctx context.Context, c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: spawn-admin delete ID")
	}

	if err := c.do(ctx, http.MethodDelete, "/admin/identities/"+args[0], nil, nil); err != nil {
		return err
	}

	color.New(color.FgGreen).Printf("  ✓ Deleted %s\n", args[0])
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
