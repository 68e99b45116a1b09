package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"guardian/internal/auth"
	"guardian/internal/db"
	"guardian/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	hub        *hub.Hub
	jwtService *auth.JWTService
	userRepo   *db.UserRepository
}

func NewWebSocketHandler(h *hub.Hub, jwtService *auth.JWTService, userRepo *db.UserRepository) *WebSocketHandler {
	return &WebSocketHandler{
		hub:        h,
		jwtService: jwtService,
		userRepo:   userRepo,
	}
}

func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	// The token travels in the Authorization header, never the query
	// string, so it cannot leak into access logs.
	token := bearerToken(r)
	if token == "" {
		unauthorized(w, "Missing token")
		return
	}

	claims, err := h.jwtService.ValidateAccessToken(token)
	if err != nil {
		log.Printf("Invalid token: %v", err)
		unauthorized(w, "Invalid token")
		return
	}

	user, err := h.userRepo.FindByID(claims.UserID)
	if err != nil {
		log.Printf("User not found: %v", err)
		unauthorized(w, "User not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := hub.NewClient(h.hub, conn, user)

	go client.WritePump()
	go client.ReadPump()

	client.SendReady()
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
