package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/pkg/adapters/events/memory"
)

func TestHandleSessionStream(t *testing.T) {
	gin.SetMode(gin.TestMode)

	bus := memory.NewInMemoryEventBus(zap.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHandler(bus, zap.NewNop())
	require.NoError(t, h.Start(ctx))
	for _, topic := range Topics {
		assert.Equal(t, 1, bus.SubscriberCount(topic))
	}

	router := gin.New()
	router.GET("/api/v1/sessions/:id/ws", h.HandleSessionStream)
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/sessions/s-1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.ClientCount("s-1") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.TopicProgress, domain.Event{
		ID: "other", Type: domain.EventTypeProgress, SessionID: "s-2",
	}))
	require.NoError(t, bus.Publish(ctx, domain.TopicProgress, domain.Event{
		ID:        "mine",
		Type:      domain.EventTypeProgress,
		SessionID: "s-1",
		Data:      map[string]interface{}{"percent": 25},
	}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	assert.Equal(t, "mine", gjson.GetBytes(msg, "id").String())
	assert.Equal(t, int64(25), gjson.GetBytes(msg, "data.percent").Int())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.ClientCount("s-1") == 0 }, time.Second, 5*time.Millisecond)
}
