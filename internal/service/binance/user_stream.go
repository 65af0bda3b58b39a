package binance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const listenKeyRenewInterval = 30 * time.Minute

// NewUserDataSession builds a session over the account's user-data stream.
// Each connect obtains a fresh listen key; a keepalive loop renews it every
// 30 minutes and closes the transport when renewal fails, which forces the
// receive loop into its reconnect path with a new key.
func NewUserDataSession(client *Client, wsBaseURL string, accountID int64) *Session {
	log := logrus.WithFields(logrus.Fields{"stream": "user_data", "account": accountID})

	var mu sync.Mutex
	var listenKey string

	session := &Session{log: log}

	session.connect = func(ctx context.Context) (*websocket.Conn, error) {
		key, err := client.NewListenKey(ctx)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		listenKey = key
		mu.Unlock()
		log.Info("received listen key")

		url := strings.TrimRight(wsBaseURL, "/") + "/" + key
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		log.Info("connected")
		return conn, nil
	}

	session.extra = func(ctx context.Context, s *Session) {
		ticker := time.NewTicker(listenKeyRenewInterval)
		defer ticker.Stop()

		for s.running.Load() {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			mu.Lock()
			key := listenKey
			mu.Unlock()
			if key == "" {
				continue
			}

			if err := client.KeepAliveListenKey(ctx); err != nil {
				log.WithError(err).Error("failed to renew listen key")
				s.closeConn()
				continue
			}
			log.Info("listen key renewed")
		}
	}

	return session
}
