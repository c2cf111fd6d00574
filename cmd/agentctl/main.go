// Command agentctl is a small operator CLI for the artifact agent API.
//
// Usage:
//
//	agentctl -addr http://localhost:8080 submit "build a calculator cli"
//	agentctl status <project-id>
//	agentctl list
//	agentctl follow <project-id>
//	agentctl download <project-id> [dest.zip]
//	agentctl delete <project-id>
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type client struct {
	addr  string
	token string
	http  *http.Client
}

func main() {
	addr := flag.String("addr", envOr("AGENT_ADDR", "http://localhost:8080"), "agent base URL")
	token := flag.String("token", os.Getenv("AGENT_TOKEN"), "bearer token (API key or JWT)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	c := &client{
		addr:  strings.TrimRight(*addr, "/"),
		token: *token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch args[0] {
	case "submit":
		if len(args) < 2 {
			err = fmt.Errorf("submit requires a prompt")
			break
		}
		err = c.submit(strings.Join(args[1:], " "))
	case "status":
		if len(args) != 2 {
			err = fmt.Errorf("status requires a project id")
			break
		}
		err = c.status(args[1])
	case "list":
		err = c.list()
	case "follow":
		if len(args) != 2 {
			err = fmt.Errorf("follow requires a project id")
			break
		}
		err = c.follow(args[1])
	case "download":
		dest := ""
		if len(args) == 3 {
			dest = args[2]
		}
		if len(args) < 2 {
			err = fmt.Errorf("download requires a project id")
			break
		}
		err = c.download(args[1], dest)
	case "delete":
		if len(args) != 2 {
			err = fmt.Errorf("delete requires a project id")
			break
		}
		err = c.delete(args[1])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: agentctl [-addr URL] [-token TOKEN] <submit|status|list|follow|download|delete> ...")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (c *client) do(method, path string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.addr+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}

func printJSON(r io.Reader) error {
	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func (c *client) submit(prompt string) error {
	resp, err := c.do("POST", "/api/v1/projects", map[string]string{"prompt": prompt})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSON(resp.Body)
}

func (c *client) status(id string) error {
	resp, err := c.do("GET", "/api/v1/projects/"+id, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSON(resp.Body)
}

func (c *client) list() error {
	resp, err := c.do("GET", "/api/v1/projects", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSON(resp.Body)
}

func (c *client) delete(id string) error {
	resp, err := c.do("DELETE", "/api/v1/projects/"+id, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	fmt.Println("deleted", id)
	return nil
}

func (c *client) download(id, dest string) error {
	if dest == "" {
		dest = id + ".zip"
	}
	resp, err := c.do("GET", "/api/v1/projects/"+id+"/archive", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", dest, n)
	return nil
}

// follow streams progress events over WebSocket until the project
// reaches a terminal state or the user interrupts.
func (c *client) follow(id string) error {
	u, err := url.Parse(c.addr)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/projects/" + id + "/events"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}()

	for {
		var ev struct {
			Sequence  uint64         `json:"sequence_number"`
			Type      string         `json:"type"`
			Level     string         `json:"level"`
			Payload   map[string]any `json:"payload"`
			Timestamp time.Time      `json:"timestamp_iso"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		detail, _ := json.Marshal(ev.Payload)
		fmt.Printf("%s  #%d  %-16s %s\n",
			ev.Timestamp.Format(time.RFC3339), ev.Sequence, ev.Type, string(detail))

		if ev.Type == "terminal" {
			return nil
		}
	}
}
