package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/internal/domain"
	"chatrelay/internal/presence"
	"chatrelay/internal/service"
)

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// MakeHandler returns an HTTP handler for the /ws endpoint. Connections
// arrive unauthenticated and bind an identity with a login event, then
// dispatch:
//   - login    -> resolve/create user, bind, broadcast presence
//   - presence -> unicast the current snapshot
//   - message  -> store + echo to sender, deliver to receiver if online
//   - history  -> unicast the ordered conversation with one user
//   - typing   -> relay the flag to the receiver's connection, if any
//
// Connection close, however it happens, funnels through one deferred
// teardown: unbind, mark offline, broadcast presence.
func MakeHandler(
	hub *Hub,
	registry *presence.Registry,
	chat *service.ChatService,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
	}
	notifier := &presenceNotifier{hub: hub, chat: chat}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		ctx := r.Context()
		client := hub.Add(conn)
		defer func() {
			hub.Remove(client.ID)
			user := registry.Unbind(client.ID)
			if user == nil {
				// closed before login completed
				return
			}
			if err := chat.Disconnect(context.Background(), user.ID); err != nil {
				log.Printf("ws: set offline for %d: %v", user.ID, err)
			}
			notifier.broadcast(context.Background())
		}()

		for {
			var payload map[string]any
			if err := conn.ReadJSON(&payload); err != nil {
				break
			}
			evType, _ := payload["type"].(string)
			switch evType {

			case "login":
				name, _ := payload["name"].(string)
				user, err := chat.Login(ctx, name)
				if errors.Is(err, domain.ErrInvalidInput) {
					// empty name; a well-behaved client never sends this
					continue
				}
				if err != nil {
					log.Printf("ws: login %q: %v", name, err)
					hub.Send(client.ID, map[string]any{
						"type":   "login_failed",
						"reason": "failed to log in",
					})
					continue
				}
				registry.Bind(client.ID, user)
				notifier.broadcast(ctx)

			case "presence":
				notifier.unicast(ctx, client.ID)

			case "message":
				sender := registry.Lookup(client.ID)
				if sender == nil {
					continue
				}
				receiverIDf, _ := payload["receiver_id"].(float64)
				content, _ := payload["content"].(string)
				mediaURL, _ := payload["media_url"].(string)
				mediaType, _ := payload["media_type"].(string)

				in := service.MessageInput{
					ReceiverID: int64(receiverIDf),
					Content:    content,
				}
				if mediaURL != "" {
					in.MediaURL = &mediaURL
				}
				if mediaType != "" {
					in.MediaType = &mediaType
				}

				msg, err := chat.SendMessage(ctx, sender.ID, in)
				if err != nil {
					if !errors.Is(err, domain.ErrInvalidInput) {
						log.Printf("ws: send message from %d: %v", sender.ID, err)
					}
					hub.Send(client.ID, map[string]any{
						"type":   "send_failed",
						"reason": "failed to send message",
					})
					continue
				}

				hub.Send(client.ID, messageEvent(msg, true))
				if connID := registry.FindConnection(msg.ReceiverID); connID != "" {
					hub.Send(connID, messageEvent(msg, false))
				}

			case "history":
				self := registry.Lookup(client.ID)
				if self == nil {
					hub.Send(client.ID, map[string]any{
						"type":   "history_failed",
						"reason": "login required",
					})
					continue
				}
				withIDf, _ := payload["with_user_id"].(float64)
				withID := int64(withIDf)
				msgs, err := chat.History(ctx, self.ID, withID)
				if err != nil {
					if !errors.Is(err, domain.ErrInvalidInput) {
						log.Printf("ws: history for %d with %d: %v", self.ID, withID, err)
					}
					hub.Send(client.ID, map[string]any{
						"type":   "history_failed",
						"reason": "failed to fetch chat history",
					})
					continue
				}
				hub.Send(client.ID, historyEvent(withID, self.ID, msgs))

			case "typing":
				sender := registry.Lookup(client.ID)
				if sender == nil {
					continue
				}
				receiverIDf, _ := payload["receiver_id"].(float64)
				isTyping, _ := payload["is_typing"].(bool)
				// stateless relay: nothing persisted, offline receiver
				// means silent no-op
				if connID := registry.FindConnection(int64(receiverIDf)); connID != "" {
					hub.Send(connID, map[string]any{
						"type":      "typing",
						"sender_id": sender.ID,
						"is_typing": isTyping,
					})
				}

			default:
				log.Printf("ws: unknown event type %q on connection %s", evType, client.ID)
			}
		}
	}
}

// presenceNotifier serializes snapshot computation with delivery.
// Without it two concurrent logins could compute snapshots S1 then S2
// but enqueue S2 before S1, handing every connection the stale view
// last. Holding one mutex across compute+enqueue keeps each
// connection's presence frames monotonically fresh. This is a separate
// lock from the registry's; it is never held by store-calling handler
// code outside these two methods.
type presenceNotifier struct {
	mu   sync.Mutex
	hub  *Hub
	chat *service.ChatService
}

func (n *presenceNotifier) broadcast(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	users, err := n.chat.Snapshot(ctx)
	if err != nil {
		log.Printf("ws: snapshot for broadcast: %v", err)
		return
	}
	n.hub.Broadcast(presenceEvent(users))
}

func (n *presenceNotifier) unicast(ctx context.Context, connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	users, err := n.chat.Snapshot(ctx)
	if err != nil {
		log.Printf("ws: snapshot: %v", err)
		return
	}
	n.hub.Send(connID, presenceEvent(users))
}

// presenceUser is the wire shape of one snapshot entry.
type presenceUser struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

func presenceEvent(users []*domain.User) map[string]any {
	list := make([]presenceUser, 0, len(users))
	for _, u := range users {
		list = append(list, presenceUser{
			ID:       u.ID,
			Name:     u.Name,
			IsOnline: u.IsOnline,
			LastSeen: u.LastSeen,
		})
	}
	return map[string]any{
		"type":  "presence",
		"users": list,
	}
}

// messageEvent builds the outbound frame for a freshly stored message.
// The sender's own copy carries the literal "self" so the presentation
// layer needs no second identity comparison.
func messageEvent(m *domain.Message, self bool) map[string]any {
	var senderID any = m.SenderID
	if self {
		senderID = "self"
	}
	return map[string]any{
		"type":       "message",
		"message_id": m.ID,
		"sender_id":  senderID,
		"content":    m.Content,
		"media_url":  m.MediaURL,
		"media_type": m.MediaType,
		"timestamp":  m.CreatedAt,
	}
}

func historyEvent(withID, selfID int64, msgs []*domain.Message) map[string]any {
	items := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		var senderID any = m.SenderID
		if m.SenderID == selfID {
			senderID = "self"
		}
		items = append(items, map[string]any{
			"message_id": m.ID,
			"sender_id":  senderID,
			"content":    m.Content,
			"media_url":  m.MediaURL,
			"media_type": m.MediaType,
			"timestamp":  m.CreatedAt,
		})
	}
	return map[string]any{
		"type":         "history",
		"with_user_id": withID,
		"messages":     items,
	}
}
