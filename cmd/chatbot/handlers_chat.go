package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/man-su-97/rag-chatbot/internal/agent"
)

// =============================================================================
// Chat Command Handler
// =============================================================================

// chatOptions configures the terminal chat client.
type chatOptions struct {
	Server    string
	SessionID string
	Provider  string
	Model     string
	APIKey    string

	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client
}

// chatClient talks to the chatbot HTTP API.
type chatClient struct {
	base *url.URL
	http *http.Client
}

func newChatClient(server string, httpClient *http.Client) (*chatClient, error) {
	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", server)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &chatClient{base: base, http: httpClient}, nil
}

func (c *chatClient) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// apiError decodes the server's error body.
func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}

func (c *chatClient) postJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// NewSession creates a session on the server.
func (c *chatClient) NewSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.postJSON(ctx, "/chatbot/session/new", nil, &out); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if out.SessionID == "" {
		return "", errors.New("create session: empty session id")
	}
	return out.SessionID, nil
}

// Configure sets the provider override of a session.
func (c *chatClient) Configure(ctx context.Context, sessionID, provider, model, apiKey string) error {
	in := map[string]string{
		"sessionId": sessionID,
		"provider":  provider,
		"model":     model,
	}
	if apiKey != "" {
		in["apiKey"] = apiKey
	}
	if err := c.postJSON(ctx, "/chatbot/session/configure", in, nil); err != nil {
		return fmt.Errorf("configure session: %w", err)
	}
	return nil
}

// Stream sends one message and calls fn for every event until a terminal
// event arrives or the body ends.
func (c *chatClient) Stream(ctx context.Context, sessionID, message string, fn func(agent.StreamEvent)) error {
	query := url.Values{"sessionId": {sessionID}, "message": {message}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/chatbot/chat-stream", query), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/x-ndjson")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev agent.StreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fn(ev)
		if ev.Terminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream ended without a terminal event")
}

// runChat reads messages line by line from in and prints streamed replies
// to out.
func runChat(ctx context.Context, in io.Reader, out io.Writer, opts chatOptions) error {
	client, err := newChatClient(opts.Server, opts.HTTPClient)
	if err != nil {
		return err
	}

	interactive := isTerminal(in)
	if !interactive {
		color.NoColor = true
	}
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID, err = client.NewSession(ctx)
		if err != nil {
			return err
		}
	}
	if opts.Provider != "" || opts.Model != "" {
		if err := client.Configure(ctx, sessionID, opts.Provider, opts.Model, opts.APIKey); err != nil {
			return err
		}
	}
	gray.Fprintf(out, "session %s\n", sessionID)

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			cyan.Fprint(out, "you> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if message == "/quit" || message == "/exit" {
			return nil
		}

		started := time.Now()
		green.Fprint(out, "bot> ")
		err := client.Stream(ctx, sessionID, message, func(ev agent.StreamEvent) {
			switch ev.Type {
			case agent.EventToken:
				fmt.Fprint(out, ev.Content)
			case agent.EventCommand:
				data, _ := json.Marshal(ev.Command)
				yellow.Fprintf(out, "\n[command] %s\n", data)
			case agent.EventError:
				red.Fprintf(out, "\n[error] %s", ev.Message)
			}
		})
		fmt.Fprintln(out)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			red.Fprintf(out, "request failed: %v\n", err)
			continue
		}
		if interactive {
			gray.Fprintf(out, "(%s)\n", time.Since(started).Round(time.Millisecond))
		}
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
