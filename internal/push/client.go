// SPDX-License-Identifier: MIT

package push

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

// client is one websocket connection and its group memberships.
type client struct {
	hub      *Hub
	conn     *websocket.Conn
	tenantID string
	send     chan Message

	mu     sync.Mutex
	groups map[string]string // group name -> group type
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn, tenantID string) *client {
	return &client{
		hub:      h,
		conn:     conn,
		tenantID: tenantID,
		send:     make(chan Message, sendBuffer),
		groups:   make(map[string]string),
	}
}

// enqueue hands msg to the write pump without blocking. False means the
// buffer is full.
func (c *client) enqueue(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close tears the connection down once; the read pump then detaches the
// client from its groups.
func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.send)
	_ = c.conn.Close()
}

func (c *client) memberships() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.groups))
	for g, gt := range c.groups {
		out[g] = gt
	}
	return out
}

func (c *client) track(group, groupType string) {
	c.mu.Lock()
	c.groups[group] = groupType
	c.mu.Unlock()
}

func (c *client) untrack(group string) {
	c.mu.Lock()
	delete(c.groups, group)
	c.mu.Unlock()
}

// readPump handles client operations until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req inbound
		if err := c.conn.ReadJSON(&req); err != nil {
			return
		}
		c.handle(req)
	}
}

// handle processes one operation. Group names are derived from the
// server-resolved tenant, never from client input.
func (c *client) handle(req inbound) {
	if c.tenantID == "" {
		c.enqueue(Message{Type: msgError, Message: errInvalidTenantContext})
		return
	}

	switch req.Type {
	case opJoinQueueGroup:
		c.subscribe(queueGroup(c.tenantID, req.QueueID), "queue",
			Message{Type: msgJoinedQueue, QueueID: req.QueueID})
	case opLeaveQueueGroup:
		c.unsubscribe(queueGroup(c.tenantID, req.QueueID), "queue",
			Message{Type: msgLeftQueue, QueueID: req.QueueID})
	case opSubscribeToUserUpdates:
		c.subscribe(userGroup(c.tenantID, req.UserID), "user",
			Message{Type: msgSubscribedToUser, UserID: req.UserID})
	case opUnsubscribeFromUserUpdate:
		c.unsubscribe(userGroup(c.tenantID, req.UserID), "user",
			Message{Type: msgUnsubscribedFromUser, UserID: req.UserID})
	default:
		c.enqueue(Message{Type: msgError, Message: "unknown operation: " + req.Type})
	}
}

func (c *client) subscribe(group, groupType string, ack Message) {
	c.hub.join(c, group, groupType)
	c.track(group, groupType)
	c.enqueue(ack)
}

func (c *client) unsubscribe(group, groupType string, ack Message) {
	c.hub.leave(c, group, groupType)
	c.untrack(group)
	c.enqueue(ack)
}

// writePump flushes queued frames and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
