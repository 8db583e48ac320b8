package protocol

import "strconv"

// Kind identifies what a frame carries. The numbering is part of the wire
// format and must never be reordered.
type Kind int32

const (
	KindAck Kind = iota + 1
	KindHandshakeReq
	KindHandshakeRes
	KindPublicKey
	KindAESKey
	KindData
	KindRepeat
	KindEOT
	KindSOT
	KindFTS
	KindFTE
	KindFileName
	KindFileSize
	KindPing
	KindPong
	KindChecksum
	KindRelay
	KindBroadcast
)

var kindNames = map[Kind]string{
	KindAck:          "ACK",
	KindHandshakeReq: "HANDSHAKE_REQ",
	KindHandshakeRes: "HANDSHAKE_RES",
	KindPublicKey:    "PUBLIC_KEY",
	KindAESKey:       "AES_KEY",
	KindData:         "DATA",
	KindRepeat:       "REPEAT",
	KindEOT:          "EOT",
	KindSOT:          "SOT",
	KindFTS:          "FTS",
	KindFTE:          "FTE",
	KindFileName:     "FILE_NAME",
	KindFileSize:     "FILE_SIZE",
	KindPing:         "PING",
	KindPong:         "PONG",
	KindChecksum:     "CHECKSUM",
	KindRelay:        "RELAY",
	KindBroadcast:    "BROADCAST",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return "KIND(" + strconv.Itoa(int(k)) + ")"
}

// IsControl reports whether frames of this kind drive the transfer state
// machine. Everything else is carried through untouched.
func (k Kind) IsControl() bool {
	switch k {
	case KindAck, KindSOT, KindEOT, KindRepeat, KindFTS, KindFTE:
		return true

	default:
		return false
	}
}
