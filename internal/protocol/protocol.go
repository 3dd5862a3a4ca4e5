package protocol

import "encoding/json"

// Realtime event names (server -> client unless noted).
const (
	EventPostsUpdated     = "posts-updated"
	EventPostStatsUpdated = "post-stats-updated"
	EventThemeUpdated     = "theme-updated"
	EventPing             = "ping" // client -> server
	EventPong             = "pong"
)

// SyntheticQueryParam tags a realtime connection as keep-alive traffic.
const SyntheticQueryParam = "bot"

// Envelope is the single frame shape on the realtime channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func Encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = b
	}
	return json.Marshal(env)
}

func Decode(b []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(b, &e)
	return e, err
}

type PostStats struct {
	ID    int64 `json:"id"`
	Views int64 `json:"views"`
	Likes int64 `json:"likes"`
}

type ThemeState struct {
	IsNewYear bool `json:"isNewYear"`
}
