// Command medialinkctl talks to a running medialinkd over its HTTP API.
//
//	medialinkctl -status
//	medialinkctl -path Root,Artists -fetch
//	medialinkctl -path Root,Artists -q beat
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/micro-nova/medialink/internal/models"
)

const (
	addrEnv = "MEDIALINK_ADDR"
	keyEnv  = "MEDIALINK_API_KEY"
)

func main() {
	var (
		addr       = flag.String("addr", "", fmt.Sprintf("scheme://host(:port) `address` of medialinkd (or set %v)", addrEnv))
		status     = flag.Bool("status", false, "print the backend connection status")
		reconnect  = flag.Bool("reconnect", false, "reconnect to the backend and print the resulting status")
		pathList   = flag.String("path", "", "comma-separated collection `path`, e.g. Root,Artists")
		fetch      = flag.Bool("fetch", false, "ask medialinkd to fetch -path from the backend")
		invalidate = flag.Bool("invalidate", false, "mark -path stale")
		query      = flag.String("q", "", "filter the children of -path by `query`")
		key        = flag.String("key", "", fmt.Sprintf("access `key` for medialinkd (or set %v)", keyEnv))
	)
	flag.Parse()

	if *addr == "" {
		*addr = os.Getenv(addrEnv)
	}
	if *addr == "" {
		fmt.Fprintf(os.Stderr, "must use -addr or set %v\n", addrEnv)
		os.Exit(1)
	}

	if *key == "" {
		*key = os.Getenv(keyEnv)
	}

	c := &client{base: strings.TrimSuffix(*addr, "/"), key: *key, http: &http.Client{Timeout: 30 * time.Second}}

	var (
		out any
		err error
	)
	path := splitPath(*pathList)
	switch {
	case *status:
		out, err = c.get("/api/status", nil)
	case *reconnect:
		out, err = c.post("/api/reconnect", nil)
	case *fetch:
		out, err = c.post("/api/collection/fetch", models.PathRequest{Path: path})
	case *invalidate:
		out, err = c.post("/api/collection/invalidate", models.PathRequest{Path: path})
	default:
		q := url.Values{"key": {string(path.Key())}}
		if *query != "" {
			q.Set("q", *query)
		}
		out, err = c.get("/api/collection", q)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error marshalling response: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}

// splitPath turns "Root,Artists" into a path. An empty list is the root.
func splitPath(s string) models.Path {
	if s == "" {
		return models.RootPath.Clone()
	}
	return models.Path(strings.Split(s, ","))
}

type client struct {
	base string
	key  string
	http *http.Client
}

func (c *client) get(path string, q url.Values) (any, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return c.do(http.MethodGet, u, nil)
}

func (c *client) post(path string, body any) (any, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	return c.do(http.MethodPost, c.base+path, r)
}

func (c *client) do(method, u string, body io.Reader) (any, error) {
	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error performing request: %w", err)
	}
	return decode(resp)
}

func decode(resp *http.Response) (any, error) {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var appErr models.AppError
		if err := json.NewDecoder(resp.Body).Decode(&appErr); err != nil || appErr.Message == "" {
			return nil, fmt.Errorf("request failed: %s", resp.Status)
		}
		return nil, errors.New(appErr.Code + ": " + appErr.Message)
	}
	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	return v, nil
}
