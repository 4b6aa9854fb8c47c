// Command kakoictl is the operator CLI for the migration rollout. It
// drives the kakoid admin API: fleet status, per-project eligibility and
// violation reports, phase advancement, and emergency rollback.
//
// Exit codes: 0 success, 1 error, 2 advancement refused (not eligible).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const usage = `usage: kakoictl [flags] <command> [args]

Commands:
  status                          fleet-wide rollout status
  eligibility <project>           eligibility report for one project
  violations <project>            violation breakdown for one project
  advance <project>[,<project>…]  advance projects to the target phase
  rollback <project>              roll a project back to pending

Flags:
  -addr     kakoid base URL (default $KAKOI_ADDR or http://localhost:8080)
  -token    admin bearer token (default $KAKOI_TOKEN)
  -target   target phase for advance (shadow|enforcing|complete)
  -dry-run  evaluate advance without mutating anything
`

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", envOr("KAKOI_ADDR", "http://localhost:8080"), "kakoid base URL")
	token := flag.String("token", os.Getenv("KAKOI_TOKEN"), "admin bearer token")
	target := flag.String("target", "", "target phase for advance")
	dryRun := flag.Bool("dry-run", false, "evaluate advance without mutating anything")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	c := &client{base: strings.TrimRight(*addr, "/"), token: *token}

	var err error
	switch args[0] {
	case "status":
		err = c.get(ctx, "/v1/migration/status")
	case "eligibility":
		if len(args) != 2 {
			return usageError("eligibility requires exactly one project id")
		}
		err = c.get(ctx, "/v1/migration/"+args[1]+"/eligibility")
	case "violations":
		if len(args) != 2 {
			return usageError("violations requires exactly one project id")
		}
		err = c.get(ctx, "/v1/migration/"+args[1]+"/violations")
	case "advance":
		if len(args) != 2 {
			return usageError("advance requires a project id list")
		}
		if *target == "" {
			return usageError("advance requires -target")
		}
		return c.advance(ctx, strings.Split(args[1], ","), *target, *dryRun)
	case "rollback":
		if len(args) != 2 {
			return usageError("rollback requires exactly one project id")
		}
		err = c.post(ctx, "/v1/migration/"+args[1]+"/rollback", nil)
	default:
		return usageError("unknown command " + args[0])
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "kakoictl:", err)
		return 1
	}
	return 0
}

func usageError(msg string) int {
	fmt.Fprintln(os.Stderr, "kakoictl:", msg)
	fmt.Fprint(os.Stderr, usage)
	return 1
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type client struct {
	base  string
	token string
}

// advance moves each named project to the target phase in order, stopping
// at the first refusal. Projects advanced before the stop stay advanced;
// rerunning after fixing the blocker picks up where it left off.
func (c *client) advance(ctx context.Context, projects []string, target string, dryRun bool) int {
	body, _ := json.Marshal(map[string]any{
		"target_phase": target,
		"dry_run":      dryRun,
	})

	for _, p := range projects {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		status, out, err := c.do(ctx, http.MethodPost, "/v1/migration/"+p+"/advance", body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kakoictl: advance %s: %v\n", p, err)
			return 1
		}
		fmt.Println(out)
		if status == http.StatusConflict {
			fmt.Fprintf(os.Stderr, "kakoictl: %s refused, stopping\n", p)
			return 2
		}
		if status >= 400 {
			fmt.Fprintf(os.Stderr, "kakoictl: advance %s failed with status %d\n", p, status)
			return 1
		}
	}
	return 0
}

func (c *client) get(ctx context.Context, path string) error {
	return c.print(ctx, http.MethodGet, path, nil)
}

func (c *client) post(ctx context.Context, path string, body []byte) error {
	return c.print(ctx, http.MethodPost, path, body)
}

func (c *client) print(ctx context.Context, method, path string, body []byte) error {
	status, out, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	fmt.Println(out)
	if status >= 400 {
		return fmt.Errorf("%s %s: status %d", method, path, status)
	}
	return nil
}

// do performs one request and returns the status code and the pretty
// printed response body.
func (c *client) do(ctx context.Context, method, path string, body []byte) (int, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else if method == http.MethodPost {
		reader = strings.NewReader("{}")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return resp.StatusCode, string(raw), nil
	}
	return resp.StatusCode, pretty.String(), nil
}
