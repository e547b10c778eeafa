package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolkhub/jobwatch/internal/pkg/jwt"
	"github.com/tolkhub/jobwatch/internal/pkg/response"
	"github.com/tolkhub/jobwatch/internal/pkg/ws"
)

const testSecret = "test-secret-for-websocket"

func startWebSocketServer(t *testing.T, hub *ws.Hub, origins []string) string {
	t.Helper()
	router := gin.New()
	router.GET("/ws", NewWebSocketHandler(hub, testSecret, origins).Handle)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server.URL
}

func TestWebSocketHandler_RejectsMissingToken(t *testing.T) {
	router := gin.New()
	router.GET("/ws", NewWebSocketHandler(ws.NewHub(), testSecret, nil).Handle)

	for _, path := range []string{"/ws", "/ws?token=garbage"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))

		resp := parseResponse(t, w)
		assert.Equal(t, response.CodeAuthFailed, resp.Code, path)
	}
}

func TestWebSocketHandler_RegistersUser(t *testing.T) {
	hub := ws.NewHub()
	offline := make(chan string, 1)
	hub.OnOffline(func(userID string) { offline <- userID })
	url := startWebSocketServer(t, hub, nil)

	token, err := jwt.GenerateToken("user-1", testSecret, 1)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws?token="+token, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.IsOnline("user-1") }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.SendToUser("user-1", &ws.Message{Type: "ping", Data: "hello"}))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")

	conn.Close()
	select {
	case userID := <-offline:
		assert.Equal(t, "user-1", userID)
	case <-time.After(2 * time.Second):
		t.Fatal("user never went offline")
	}
}

func TestWebSocketHandler_CheckOrigin(t *testing.T) {
	hub := ws.NewHub()
	url := startWebSocketServer(t, hub, []string{"https://app.example.com"})
	token, err := jwt.GenerateToken("user-1", testSecret, 1)
	require.NoError(t, err)
	endpoint := "ws" + strings.TrimPrefix(url, "http") + "/ws?token=" + token

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(endpoint, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, header)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.IsOnline("user-1") }, time.Second, 5*time.Millisecond)
}
