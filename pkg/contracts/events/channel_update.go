package events

// Envelope padrão do broadcast Redis consumido pelo gateway WebSocket.
// Payload é sempre o snapshot completo do canal, nunca um delta.
type ChannelUpdate struct {
	Channel  string      `json:"channel"`
	Payload  interface{} `json:"payload"`
	TsUnixMs int64       `json:"ts_unix_ms"`
}
