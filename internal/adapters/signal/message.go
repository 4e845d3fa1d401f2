package signal

import "github.com/dkeye/echomeet/internal/domain"

// Message types on the signaling socket.
const (
	TypeOpen      = "open"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeBye       = "bye"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeError     = "error"
)

// Error codes carried by TypeError messages.
const (
	ErrCodeUnknownPeer = "unknown_peer"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeBadPayload  = "bad_payload"
)

// Message is the single envelope for every signaling frame. Relayed messages
// name their destination in Dst; the broker stamps Src.
type Message struct {
	Type    string         `json:"type"`
	Src     domain.Address `json:"src,omitempty"`
	Dst     domain.Address `json:"dst,omitempty"`
	CID     string         `json:"cid,omitempty"`
	SDP     string         `json:"sdp,omitempty"`
	Address domain.Address `json:"address,omitempty"`
	Error   string         `json:"error,omitempty"`

	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}
