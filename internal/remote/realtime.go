package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	realtimeHeartbeat  = 30 * time.Second
	realtimeMaxBackoff = 10 * time.Second
)

type dialer interface {
	Dial(urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

func defaultDialer() dialer {
	return &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
}

// phxMessage is a Phoenix channel frame as spoken by Supabase realtime.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type realtimeSub struct {
	url    string
	dialer dialer
	topic  string
	join   interface{}
	cb     func(Change)

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
	ref  int
}

// Subscribe opens a realtime feed for table in the background. Connection
// errors are retried with capped backoff until Unsubscribe or ctx ends.
func (s *Supabase) Subscribe(ctx context.Context, table string, filter Filter, cb func(Change)) (Subscription, error) {
	wsURL, err := s.realtimeURL()
	if err != nil {
		return nil, err
	}

	change := map[string]string{"event": "*", "schema": "public", "table": table}
	if len(filter) > 0 {
		c := filter[0]
		change["filter"] = fmt.Sprintf("%s=%s.%s", c.Column, c.Op, formatValue(c.Value))
	}

	sub := &realtimeSub{
		url:    wsURL,
		dialer: s.dialer,
		topic:  "realtime:public:" + table,
		join: map[string]interface{}{
			"config": map[string]interface{}{
				"postgres_changes": []map[string]string{change},
			},
		},
		cb:   cb,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go sub.run(ctx)
	go func() {
		select {
		case <-ctx.Done():
			sub.closeConn()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (s *Supabase) realtimeURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", s.apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Unsubscribe stops the feed and waits for the reader to exit.
func (r *realtimeSub) Unsubscribe() error {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.mu.Lock()
		if r.conn != nil {
			r.conn.Close()
		}
		r.mu.Unlock()
	})
	<-r.done
	return nil
}

func (r *realtimeSub) run(ctx context.Context) {
	defer close(r.done)

	backoff := 500 * time.Millisecond
	for {
		err := r.connectAndRead()
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			r.closeConn()
			return
		default:
		}
		if err != nil {
			log.Printf("Realtime %s disconnected: %v (retry in %s)", r.topic, err, backoff)
		}
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < realtimeMaxBackoff {
			backoff *= 2
			if backoff > realtimeMaxBackoff {
				backoff = realtimeMaxBackoff
			}
		}
	}
}

func (r *realtimeSub) connectAndRead() error {
	conn, resp, err := r.dialer.Dial(r.url, http.Header{})
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	r.mu.Lock()
	select {
	case <-r.stop:
		r.mu.Unlock()
		conn.Close()
		return nil
	default:
	}
	r.conn = conn
	r.mu.Unlock()

	if err := r.send(r.topic, "phx_join", r.join); err != nil {
		r.closeConn()
		return err
	}

	hbStop := make(chan struct{})
	defer close(hbStop)
	go r.heartbeat(hbStop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.closeConn()
			return err
		}
		var msg phxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Event != "postgres_changes" {
			continue
		}
		var payload struct {
			Data Change `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			continue
		}
		if r.cb != nil {
			r.cb(payload.Data)
		}
	}
}

func (r *realtimeSub) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(realtimeHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := r.send("phoenix", "heartbeat", map[string]string{}); err != nil {
				return
			}
		}
	}
}

func (r *realtimeSub) send(topic, event string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return fmt.Errorf("not connected")
	}
	r.ref++
	msg := phxMessage{Topic: topic, Event: event, Payload: body, Ref: fmt.Sprintf("%d", r.ref)}
	r.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return r.conn.WriteJSON(msg)
}

func (r *realtimeSub) closeConn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}
