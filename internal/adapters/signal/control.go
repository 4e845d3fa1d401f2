package signal

import "github.com/dkeye/echomeet/internal/metrics"

func (b *Broker) handlePing(conn *WsSignalConn) {
	metrics.SignalMessages.WithLabelValues(TypePing, "ok").Inc()
	sendJSON(conn, Message{Type: TypePong})
}

func sendError(conn *WsSignalConn, code, cid string) {
	sendJSON(conn, Message{Type: TypeError, Error: code, CID: cid})
}
