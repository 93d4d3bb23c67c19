package natsbridge

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	nc "github.com/nats-io/nats.go"
)

// Client wraps a NATS connection with the reconnect behaviour the teacher's
// internal/nats.Client established (indefinite reconnect, logged transitions).
type Client struct {
	conn *nc.Conn
}

func NewClient(url string) (*Client, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				log.Printf("[NATSBRIDGE] disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(c *nc.Conn) {
			log.Printf("[NATSBRIDGE] reconnected to %s", c.ConnectedUrl())
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats bridge: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// PublishEvent publishes one wire-encoded agent-session event to a
// per-session subject ("agentsession.<sessionID>.events").
func (c *Client) PublishEvent(sessionID string, wire WireEvent) error {
	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal agent-session event: %w", err)
	}
	if err := c.conn.Publish(eventsSubject(sessionID), data); err != nil {
		return fmt.Errorf("publish agent-session event: %w", err)
	}
	return nil
}

// SubscribeEvents delivers every event published for sessionID to handler.
func (c *Client) SubscribeEvents(sessionID string, handler func(WireEvent)) (*nc.Subscription, error) {
	return c.conn.Subscribe(eventsSubject(sessionID), func(msg *nc.Msg) {
		var wire WireEvent
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			log.Printf("[NATSBRIDGE] dropping malformed event on %s: %v", msg.Subject, err)
			return
		}
		handler(wire)
	})
}

func eventsSubject(sessionID string) string {
	return "agentsession." + sessionID + ".events"
}

func toolCallSubject(sessionID string) string {
	return "agentsession." + sessionID + ".toolcall"
}

type toolCallRequest struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type toolCallResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// SubscribeToolCalls replies to every extension-tool invocation the
// external engine publishes as a NATS request on "agentsession.<id>.toolcall",
// delegating to execute (normally a ToolRegistry.Execute).
func (c *Client) SubscribeToolCalls(sessionID string, execute func(name string, args map[string]interface{}) (interface{}, error)) error {
	_, err := c.conn.Subscribe(toolCallSubject(sessionID), func(msg *nc.Msg) {
		var req toolCallRequest
		resp := toolCallResponse{}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			resp.Error = fmt.Sprintf("malformed tool call: %v", err)
		} else if result, err := execute(req.Name, req.Args); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Result = result
		}
		data, err := json.Marshal(resp)
		if err != nil {
			log.Printf("[NATSBRIDGE] marshal tool-call response: %v", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			log.Printf("[NATSBRIDGE] respond to tool call on %s: %v", msg.Subject, err)
		}
	})
	return err
}
