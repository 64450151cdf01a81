// SPDX-License-Identifier: MIT

// Package push serves the /queuehub websocket endpoint: clients join queue
// and user groups and receive lifecycle notifications in bus order.
package push

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/waitgate/waitgate/internal/bus"
	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/log"
	"github.com/waitgate/waitgate/internal/metrics"
)

// Client operation names.
const (
	opJoinQueueGroup            = "JoinQueueGroup"
	opLeaveQueueGroup           = "LeaveQueueGroup"
	opSubscribeToUserUpdates    = "SubscribeToUserUpdates"
	opUnsubscribeFromUserUpdate = "UnsubscribeFromUserUpdates"
)

// Server message types.
const (
	msgJoinedQueue          = "JoinedQueue"
	msgLeftQueue            = "LeftQueue"
	msgSubscribedToUser     = "SubscribedToUser"
	msgUnsubscribedFromUser = "UnsubscribedFromUser"
	msgError                = "Error"
	msgQueueUpdated         = "QueueUpdated"
	msgUserUpdated          = "UserUpdated"
	msgPositionUpdated      = "PositionUpdated"
	msgUserReleased         = "UserReleased"
	msgQueueStatistics      = "QueueStatistics"
)

const errInvalidTenantContext = "Invalid tenant context"

// inbound is a client request frame.
type inbound struct {
	Type    string `json:"type"`
	QueueID string `json:"queueId,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

// Message is a server frame.
type Message struct {
	Type    string         `json:"type"`
	QueueID string         `json:"queueId,omitempty"`
	UserID  string         `json:"userId,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
}

// WaitingFunc reports the live waiting count of a queue, when known.
type WaitingFunc func(tenantID, queueID string) (int, bool)

// Hub owns all push connections and the group membership table.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	// waiting feeds QueueStatistics frames; nil disables them.
	waiting WaitingFunc

	mu      sync.RWMutex
	groups  map[string]map[*client]struct{}
	clients map[*client]struct{}

	wg sync.WaitGroup
}

// NewHub builds a hub. waiting may be nil.
func NewHub(waiting WaitingFunc) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin pages are expected: waiting rooms embed on
			// tenant sites. Tenant scoping guards the data.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     log.WithComponent("push"),
		waiting: waiting,
		groups:  make(map[string]map[*client]struct{}),
		clients: make(map[*client]struct{}),
	}
}

func queueGroup(tenantID, queueID string) string {
	return "queue_" + tenantID + "_" + queueID
}

func userGroup(tenantID, userIdentifier string) string {
	return "user_" + tenantID + "_" + userIdentifier
}

// ServeHTTP upgrades the connection. The tenant, when resolved by upstream
// middleware, rides on the request context; subscriptions without one are
// rejected per operation.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newClient(h, conn, log.TenantIDFromContext(r.Context()))
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.PushConnections.Inc()

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		defer metrics.PushConnections.Dec()
		c.readPump()
	}()
}

// Run drains bus events into group broadcasts until ctx is done or the bus
// closes. A single goroutine dispatches, so frames within one group keep
// bus order.
func (h *Hub) Run(ctx context.Context, b *bus.Bus) {
	sub := b.Subscribe("push", bus.DefaultBuffer)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-sub.C():
				if !ok {
					return
				}
				h.route(e)
			}
		}
	}()
}

// route maps one bus event onto the five server notifications.
func (h *Hub) route(e domain.Event) {
	qg := queueGroup(e.TenantID, e.QueueID)
	ug := userGroup(e.TenantID, e.UserIdentifier)

	switch e.Kind {
	case domain.EventUserPositionChanged:
		h.broadcast(ug, Message{Type: msgPositionUpdated, QueueID: e.QueueID, UserID: e.UserIdentifier, Data: e.Payload})
	case domain.EventUserReleased:
		h.broadcast(ug, Message{Type: msgUserReleased, QueueID: e.QueueID, UserID: e.UserIdentifier, Data: e.Payload})
		h.queueUpdate(e, qg)
	case domain.EventUserEnqueued, domain.EventUserDropped, domain.EventUserServed:
		h.broadcast(ug, Message{Type: msgUserUpdated, QueueID: e.QueueID, UserID: e.UserIdentifier, Data: h.withKind(e)})
		h.queueUpdate(e, qg)
	case domain.EventQueueCreated, domain.EventQueueActivated, domain.EventQueueDeactivated, domain.EventQueueSchedule:
		h.broadcast(qg, Message{Type: msgQueueUpdated, QueueID: e.QueueID, Data: h.withKind(e)})
	}
}

func (h *Hub) withKind(e domain.Event) map[string]any {
	data := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		data[k] = v
	}
	data["event"] = string(e.Kind)
	return data
}

func (h *Hub) queueUpdate(e domain.Event, group string) {
	h.broadcast(group, Message{Type: msgQueueUpdated, QueueID: e.QueueID, Data: h.withKind(e)})
	if h.waiting == nil {
		return
	}
	if waiting, ok := h.waiting(e.TenantID, e.QueueID); ok {
		h.broadcast(group, Message{
			Type:    msgQueueStatistics,
			QueueID: e.QueueID,
			Data:    map[string]any{"waiting": waiting},
		})
	}
}

// broadcast queues msg to every member of group. A member whose send buffer
// is full is disconnected rather than blocking the dispatcher.
func (h *Hub) broadcast(group string, msg Message) {
	h.mu.RLock()
	members := make([]*client, 0, len(h.groups[group]))
	for c := range h.groups[group] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if !c.enqueue(msg) {
			h.log.Warn().Str("group", group).Msg("slow push client disconnected")
			c.close()
		}
	}
	if len(members) > 0 {
		metrics.PushMessagesTotal.WithLabelValues(msg.Type).Add(float64(len(members)))
	}
}

func (h *Hub) join(c *client, group, groupType string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[*client]struct{})
	}
	if _, ok := h.groups[group][c]; !ok {
		h.groups[group][c] = struct{}{}
		metrics.PushGroupMembers.WithLabelValues(groupType).Inc()
	}
}

func (h *Hub) leave(c *client, group, groupType string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.groups[group]; ok {
		if _, member := members[c]; member {
			delete(members, c)
			metrics.PushGroupMembers.WithLabelValues(groupType).Dec()
		}
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

// detach removes the client from every group it joined.
func (h *Hub) detach(c *client) {
	for group, groupType := range c.memberships() {
		h.leave(c, group, groupType)
	}
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Close force-closes every connection and waits for all pumps to exit.
// Callers cancel the Run context first.
func (h *Hub) Close() {
	h.mu.Lock()
	open := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		open = append(open, c)
	}
	h.mu.Unlock()
	for _, c := range open {
		c.close()
	}
	h.wg.Wait()
}
