/*
Package natssolver reaches the external load-flow solver over a NATS
request/reply exchange: the serialized network goes out on the configured
subject, the solver replies with the potentials. Transport errors belong to
the solve boundary and surface as a failure response, never as a structural
error.
*/
package natssolver

import (
	"context"
	"encoding/json"
	"log"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/phasorlab/gridflow/internal/pkg/solver"
)

// Config holds the transport settings.
type Config struct {
	Server    string `json:"Server"`
	Subject   string `json:"Subject"`
	TimeoutMs int    `json:"TimeoutMs"`
}

// requestFunc performs one request/reply exchange. Injectable for tests.
type requestFunc func(subject string, data []byte, timeout time.Duration) ([]byte, error)

// Client is a solver.Solver speaking NATS.
type Client struct {
	config  Config
	conn    *nats.Conn
	request requestFunc
}

// New configures a client from raw JSON config and connects to the server.
func New(jsonConfig []byte) (*Client, error) {
	config := Config{}
	if err := json.Unmarshal(jsonConfig, &config); err != nil {
		return nil, err
	}
	if config.Server == "" {
		config.Server = nats.DefaultURL
	}
	if config.Subject == "" {
		config.Subject = "gridflow.solve"
	}
	if config.TimeoutMs == 0 {
		config.TimeoutMs = 30000
	}
	nc, err := nats.Connect(config.Server)
	if err != nil {
		return nil, err
	}
	c := &Client{config: config, conn: nc}
	c.request = func(subject string, data []byte, timeout time.Duration) ([]byte, error) {
		m, err := nc.Request(subject, data, timeout)
		if err != nil {
			return nil, err
		}
		return m.Data, nil
	}
	return c, nil
}

// newWithRequest builds a client around an injected exchange, used by tests.
func newWithRequest(config Config, request requestFunc) *Client {
	return &Client{config: config, request: request}
}

// Close releases the connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Solve implements solver.Solver. A transport error or an undecodable reply
// comes back as a failure-status response together with the error.
func (c *Client) Solve(ctx context.Context, req *solver.Request) (*solver.Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(c.config.TimeoutMs) * time.Millisecond
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	reply, err := c.request(c.config.Subject, data, timeout)
	if err != nil {
		log.Printf("[NATS solver] request failed: %v", err)
		return &solver.Response{Status: solver.Failure, Message: err.Error()}, err
	}
	resp := &solver.Response{}
	if err := json.Unmarshal(reply, resp); err != nil {
		log.Printf("[NATS solver] undecodable reply: %v", err)
		return &solver.Response{Status: solver.Failure, Message: err.Error()}, err
	}
	return resp, nil
}
