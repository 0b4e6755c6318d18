// Package sse provides Server-Sent Events support for real-time dispatch
// updates. Professionals watch their own offers; operators and managers
// watch queue and escalation topics role-wide.
package sse

import (
	"encoding/json"
	"net/http"
	"sync"

	"tradedispatch_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Event is one SSE payload relayed to connected clients.
type Event struct {
	Topic     string      `json:"topic"`
	JobID     uuid.UUID   `json:"jobId,omitempty"`
	Reference string      `json:"reference,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

type client struct {
	userID uuid.UUID
	roles  map[string]bool
	events chan Event
}

// Service manages SSE connections and event fan-out.
type Service struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client
	log     *logger.Logger
}

// New creates an SSE service.
func New(log *logger.Logger) *Service {
	return &Service{clients: make(map[uuid.UUID][]*client), log: log}
}

func (s *Service) addClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.userID] = append(s.clients[c.userID], c)
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.clients[c.userID]
	for i, cl := range clients {
		if cl == c {
			s.clients[c.userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(s.clients[c.userID]) == 0 {
		delete(s.clients, c.userID)
	}
	close(c.events)
}

// PublishToUser sends an event to every connection of one user.
func (s *Service) PublishToUser(userID uuid.UUID, event Event) {
	s.mu.RLock()
	clients := append([]*client(nil), s.clients[userID]...)
	s.mu.RUnlock()

	for _, c := range clients {
		s.deliver(c, event)
	}
}

// PublishToRole broadcasts an event to every connected client holding the
// role.
func (s *Service) PublishToRole(role string, event Event) {
	s.mu.RLock()
	var targets []*client
	for _, clients := range s.clients {
		for _, c := range clients {
			if c.roles[role] {
				targets = append(targets, c)
			}
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		s.deliver(c, event)
	}
}

func (s *Service) deliver(c *client, event Event) {
	select {
	case c.events <- event:
	default:
		s.log.Warn("sse event buffer full, dropping", "userId", c.userID, "topic", event.Topic)
	}
}

// ConnectedUsers reports how many distinct users are connected. Used by
// tests and the stats endpoint.
func (s *Service) ConnectedUsers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Subscribe registers a connection outside HTTP, returning the event channel
// and a disconnect func. Used by tests.
func (s *Service) Subscribe(userID uuid.UUID, roles []string) (<-chan Event, func()) {
	c := &client{userID: userID, roles: roleSet(roles), events: make(chan Event, 32)}
	s.addClient(c)
	var once sync.Once
	return c.events, func() { once.Do(func() { s.removeClient(c) }) }
}

// Handler returns a Gin handler streaming events for the authenticated user.
func (s *Service) Handler(getIdentity func(*gin.Context) (uuid.UUID, []string, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, roles, ok := getIdentity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := &client{userID: userID, roles: roleSet(roles), events: make(chan Event, 32)}
		s.addClient(cl)
		defer s.removeClient(cl)

		c.SSEvent("connected", gin.H{"userId": userID})
		c.Writer.Flush()

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case event, open := <-cl.events:
				if !open {
					return
				}
				data, _ := json.Marshal(event)
				c.SSEvent(event.Topic, string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close shuts down every connection.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, clients := range s.clients {
		for _, c := range clients {
			close(c.events)
		}
	}
	s.clients = make(map[uuid.UUID][]*client)
}

func roleSet(roles []string) map[string]bool {
	set := make(map[string]bool, len(roles))
	for _, role := range roles {
		set[role] = true
	}
	return set
}
