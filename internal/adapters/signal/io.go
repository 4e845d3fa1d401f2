package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/dkeye/echomeet/internal/domain"
	"github.com/dkeye/echomeet/internal/metrics"
)

const writeWait = 5 * time.Second

func (b *Broker) writePump(ctx context.Context, c *WsSignalConn) {
	defer c.Close()
	ticker := time.NewTicker(b.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (b *Broker) readPump(ctx context.Context, cancel context.CancelFunc, addr domain.Address, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("address", string(addr)).Msg("readPump closing")
		b.Peers.Unbind(addr, c)
		b.limiter.Forget(addr)
		metrics.SignalPeers.Dec()
		cancel()
		c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(2 * b.pingPeriod))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * b.pingPeriod))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("address", string(addr)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * b.pingPeriod))
		b.handleSignal(addr, c, data)
	}
}

func (b *Broker) handleSignal(addr domain.Address, c *WsSignalConn, data []byte) {
	if !gjson.ValidBytes(data) {
		log.Warn().Str("module", "signal").Str("address", string(addr)).Msg("bad json")
		metrics.SignalMessages.WithLabelValues("invalid", "rejected").Inc()
		sendError(c, ErrCodeBadPayload, "")
		return
	}
	typ := gjson.GetBytes(data, "type").String()

	switch typ {
	case TypePing:
		b.handlePing(c)
	case TypeOffer, TypeAnswer, TypeCandidate, TypeBye:
		if !b.limiter.Allow(addr) {
			metrics.SignalMessages.WithLabelValues(typ, "rate_limited").Inc()
			sendError(c, ErrCodeRateLimited, gjson.GetBytes(data, "cid").String())
			return
		}
		b.relay(addr, c, typ, data)
	default:
		log.Warn().Str("module", "signal").Str("type", typ).Msg("unknown signal")
		metrics.SignalMessages.WithLabelValues("unknown", "rejected").Inc()
	}
}

func sendJSON(c *WsSignalConn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("sendJSON")
	}
}
