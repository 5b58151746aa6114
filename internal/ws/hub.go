package ws

import (
	"encoding/json"
	"log"

	"github.com/sealroom/sealroom/internal/projector"
)

// Hub fans projector views out to every connected UI socket.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Marshaled views to push to clients.
	broadcast chan []byte

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// BroadcastView marshals a projector view and pushes it to all clients.
// This is the session controller's OnView sink.
func (h *Hub) BroadcastView(view projector.View) {
	data, err := json.Marshal(view)
	if err != nil {
		log.Printf("ws: marshaling view: %v", err)
		return
	}
	h.broadcast <- data
}
