package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newStreamServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func newTestSession(server *httptest.Server) *Session {
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	session := &Session{log: logrus.WithField("stream", "test")}
	session.connect = func(ctx context.Context) (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		return conn, err
	}
	return session
}

func TestSessionStartOnceDispatchesAndStops(t *testing.T) {
	server := newStreamServer(t, []string{`{"e":"TEST","v":1}`})
	defer server.Close()

	session := newTestSession(server)
	frames := make(chan map[string]any, 4)
	session.AddHandler(func(_ context.Context, frame map[string]any) {
		frames <- frame
	})

	session.Start()
	session.Start() // no-op on a running session

	require.Eventually(t, session.IsAlive, time.Second, 10*time.Millisecond)
	require.EqualValues(t, 1, session.live.Load())

	select {
	case frame := <-frames:
		require.Equal(t, "TEST", frame["e"])
	case <-time.After(time.Second):
		t.Fatal("no frame dispatched")
	}

	session.Stop()
	require.Eventually(t, func() bool {
		return !session.IsAlive() && session.live.Load() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSessionKillThenStartRevivesDeadSession(t *testing.T) {
	server := newStreamServer(t, []string{`{"e":"TEST","v":1}`})
	defer server.Close()

	session := newTestSession(server)

	// The dead-but-flagged-running state: the run flag is set while no loop
	// is left alive.
	session.running.Store(true)
	session.expected.Store(1)
	require.False(t, session.IsAlive())

	// Start alone is a no-op against the stale run flag.
	session.Start()
	require.False(t, session.IsAlive())
	require.EqualValues(t, 0, session.live.Load())

	// The supervisor's kill-then-start sequence brings it back.
	session.Kill()
	session.Start()
	require.Eventually(t, session.IsAlive, time.Second, 10*time.Millisecond)

	session.Stop()
}
