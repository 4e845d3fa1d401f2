package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/dkeye/echomeet/internal/domain"
	"github.com/dkeye/echomeet/internal/metrics"
)

// relay forwards an offer, answer, candidate or bye to its destination with
// the sender's address stamped in src. The payload is never interpreted.
func (b *Broker) relay(src domain.Address, conn *WsSignalConn, typ string, data []byte) {
	dst := domain.Address(gjson.GetBytes(data, "dst").String())
	cid := gjson.GetBytes(data, "cid").String()

	peer, ok := b.Peers.Get(dst)
	if !ok {
		log.Debug().Str("module", "signal").Str("src", string(src)).Str("dst", string(dst)).
			Str("type", typ).Msg("unknown destination")
		metrics.SignalMessages.WithLabelValues(typ, "unknown_peer").Inc()
		// A bye for a peer that is already gone needs no answer.
		if typ != TypeBye {
			sendError(conn, ErrCodeUnknownPeer, cid)
		}
		return
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", typ).Msg("bad relay payload")
		metrics.SignalMessages.WithLabelValues(typ, "rejected").Inc()
		sendError(conn, ErrCodeBadPayload, cid)
		return
	}
	msg.Src = src

	out, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("relay marshal")
		return
	}
	if err := peer.TrySend(out); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("dst", string(dst)).Msg("relay dropped")
		metrics.SignalMessages.WithLabelValues(typ, "dropped").Inc()
		if errors.Is(err, ErrBackpressure) && b.policy.OnBackpressure(dst) == KickPeer {
			b.Peers.Kick(dst)
		}
		return
	}
	metrics.SignalMessages.WithLabelValues(typ, "ok").Inc()
}
