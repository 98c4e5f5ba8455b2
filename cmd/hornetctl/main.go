// hornetctl is the operator CLI for a running HORNET server.
//
// Configuration comes from the environment: HORNET_API_URL (default
// http://localhost:8080) and HORNET_API_KEY. The exit code is 0 when the
// server answered 2xx, 1 otherwise.
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
	"strconv"
	"strings"
	"time"
)

const usage = `Usage: hornetctl <command> [flags]

Commands:
  health                      server health summary
  agents                      agent roster and connector health
  incidents [--state --limit] list incidents
  get <incident-id>           one incident with findings and actions
  ingest [--file|--type]      submit an event
  approve <incident-id> [action-id]   respond to an escalated incident
  thresholds [--set <value>]  show or tune the detection threshold
  playbooks                   list configured playbooks
  dlq [--replay <job-id>]     list dead-lettered jobs, or replay one
  metrics                     raw Prometheus metrics
`

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient() *client {
	base := os.Getenv("HORNET_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return &client{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  os.Getenv("HORNET_API_KEY"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do performs one request and prints the response body, JSON-indented when
// possible. Returns true when the server answered 2xx.
func (c *client) do(method, path string, body any) bool {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return false
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return false
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return false
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return false
	}

	out := os.Stdout
	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if !ok {
		out = os.Stderr
		fmt.Fprintln(out, resp.Status)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		pretty.WriteByte('\n')
		_, _ = pretty.WriteTo(out)
	} else {
		_, _ = out.Write(raw)
	}
	return ok
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	c := newClient()
	cmd, args := os.Args[1], os.Args[2:]

	var ok bool
	switch cmd {
	case "health":
		ok = c.do(http.MethodGet, "/health", nil)
	case "agents":
		ok = c.do(http.MethodGet, "/health/agents", nil)
	case "incidents":
		ok = cmdIncidents(c, args)
	case "get":
		ok = cmdGet(c, args)
	case "ingest":
		ok = cmdIngest(c, args)
	case "approve":
		ok = cmdApprove(c, args)
	case "thresholds":
		ok = cmdThresholds(c, args)
	case "playbooks":
		ok = c.do(http.MethodGet, "/api/v1/config/playbooks", nil)
	case "dlq":
		ok = cmdDLQ(c, args)
	case "metrics":
		ok = c.do(http.MethodGet, "/metrics", nil)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if !ok {
		os.Exit(1)
	}
}

func cmdIncidents(c *client, args []string) bool {
	fs := flag.NewFlagSet("incidents", flag.ExitOnError)
	state := fs.String("state", "", "filter by incident state")
	severity := fs.String("severity", "", "filter by severity")
	limit := fs.Int("limit", 50, "max incidents returned")
	_ = fs.Parse(args)

	q := url.Values{}
	if *state != "" {
		q.Set("state", *state)
	}
	if *severity != "" {
		q.Set("severity", *severity)
	}
	q.Set("limit", strconv.Itoa(*limit))
	return c.do(http.MethodGet, "/api/v1/incidents?"+q.Encode(), nil)
}

func cmdGet(c *client, args []string) bool {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: hornetctl get <incident-id>")
		return false
	}
	return c.do(http.MethodGet, "/api/v1/incidents/"+url.PathEscape(args[0]), nil)
}

func cmdIngest(c *client, args []string) bool {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	file := fs.String("file", "", "JSON event file, '-' for stdin")
	eventType := fs.String("type", "", "event type for an inline event")
	severity := fs.String("severity", "MEDIUM", "severity for an inline event")
	source := fs.String("source", "hornetctl", "source for an inline event")
	_ = fs.Parse(args)

	var event map[string]any
	switch {
	case *file != "":
		var raw []byte
		var err error
		if *file == "-" {
			raw, err = io.ReadAll(os.Stdin)
		} else {
			raw, err = os.ReadFile(*file)
		}
		if err == nil {
			err = json.Unmarshal(raw, &event)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return false
		}
	case *eventType != "":
		event = map[string]any{
			"event_type": *eventType,
			"severity":   *severity,
			"source":     *source,
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: hornetctl ingest --file <path> | --type <event-type>")
		return false
	}
	return c.do(http.MethodPost, "/api/v1/events", event)
}

func cmdApprove(c *client, args []string) bool {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	reject := fs.Bool("reject", false, "reject instead of approve")
	justification := fs.String("justification", "approved via hornetctl", "decision justification")
	_ = fs.Parse(args)
	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "usage: hornetctl approve [--reject] <incident-id> [action-id]")
		return false
	}

	responseType := "approve"
	if *reject {
		responseType = "reject"
	}
	body := map[string]any{
		"response_type": responseType,
		"justification": *justification,
	}
	if len(rest) > 1 {
		body["modifications"] = map[string]string{rest[1]: responseType}
	}
	return c.do(http.MethodPost,
		"/api/v1/incidents/"+url.PathEscape(rest[0])+"/action", body)
}

func cmdThresholds(c *client, args []string) bool {
	fs := flag.NewFlagSet("thresholds", flag.ExitOnError)
	set := fs.Float64("set", -1, "new detection threshold in [0,1]")
	_ = fs.Parse(args)

	if *set >= 0 {
		return c.do(http.MethodPut, "/api/v1/config/thresholds",
			map[string]any{"threshold": *set})
	}
	return c.do(http.MethodGet, "/api/v1/config/thresholds", nil)
}

func cmdDLQ(c *client, args []string) bool {
	fs := flag.NewFlagSet("dlq", flag.ExitOnError)
	replay := fs.String("replay", "", "job id to replay")
	limit := fs.Int("limit", 50, "max jobs listed")
	_ = fs.Parse(args)

	if *replay != "" {
		return c.do(http.MethodPost,
			"/api/v1/dlq/"+url.PathEscape(*replay)+"/replay", nil)
	}
	return c.do(http.MethodGet, "/api/v1/dlq?limit="+strconv.Itoa(*limit), nil)
}
