package board

import (
	"encoding/json"
	"fmt"
	"time"
)

// Server-owned post keys. Author-supplied values for these are ignored.
const (
	keyID      = "id"
	keyViews   = "views"
	keyLikes   = "likes"
	keyLikedBy = "likedBy"
)

func isServerKey(k string) bool {
	switch k {
	case keyID, keyViews, keyLikes, keyLikedBy:
		return true
	}
	return false
}

// Post is a board entry. Fields holds the author-supplied keys verbatim; on
// the wire they sit next to the server-owned keys in one flat object.
type Post struct {
	ID      int64
	Views   int64
	Likes   int64
	LikedBy []string
	Fields  map[string]json.RawMessage
}

func (p Post) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Fields)+4)
	for k, v := range p.Fields {
		if isServerKey(k) || len(v) == 0 {
			continue
		}
		m[k] = v
	}
	likedBy := p.LikedBy
	if likedBy == nil {
		likedBy = []string{}
	}
	m[keyID] = p.ID
	m[keyViews] = p.Views
	m[keyLikes] = p.Likes
	m[keyLikedBy] = likedBy
	return json.Marshal(m)
}

func (p *Post) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("post must be an object")
	}
	*p = Post{Fields: make(map[string]json.RawMessage, len(raw))}
	for k, v := range raw {
		switch k {
		case keyID:
			p.ID = decodeInt(v)
		case keyViews:
			p.Views = decodeInt(v)
		case keyLikes:
			p.Likes = decodeInt(v)
		case keyLikedBy:
			p.LikedBy = decodeVisitors(v)
		default:
			p.Fields[k] = v
		}
	}
	if p.LikedBy == nil {
		p.LikedBy = []string{}
	}
	if p.Views < 0 {
		p.Views = 0
	}
	if p.Likes < 0 {
		p.Likes = 0
	}
	return nil
}

// Field returns the raw author value for key, or nil.
func (p Post) Field(key string) json.RawMessage {
	return p.Fields[key]
}

func (p Post) liked(visitorID string) int {
	for i, v := range p.LikedBy {
		if v == visitorID {
			return i
		}
	}
	return -1
}

func (p Post) clone() Post {
	c := p
	c.LikedBy = append([]string{}, p.LikedBy...)
	c.Fields = make(map[string]json.RawMessage, len(p.Fields))
	for k, v := range p.Fields {
		c.Fields[k] = append(json.RawMessage(nil), v...)
	}
	return c
}

// Older documents were written by a loosely typed client; numbers may carry
// a fractional part and likedBy may hold nulls.
func decodeInt(v json.RawMessage) int64 {
	var n int64
	if err := json.Unmarshal(v, &n); err == nil {
		return n
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return int64(f)
	}
	return 0
}

func decodeVisitors(v json.RawMessage) []string {
	var items []any
	if err := json.Unmarshal(v, &items); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

type ModeratorCode struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Document is the whole persisted application state. It is always read and
// written as a unit.
type Document struct {
	Posts          []Post          `json:"posts"`
	ModeratorCodes []ModeratorCode `json:"moderatorCodes"`
	IsNewYear      bool            `json:"isNewYear"`
}

// EmptyDocument is what a missing or unreadable store yields.
func EmptyDocument() Document {
	return Document{Posts: []Post{}, ModeratorCodes: []ModeratorCode{}}
}

// Normalize replaces nil collections so the document always serialises with
// empty arrays instead of nulls.
func (d *Document) Normalize() {
	if d.Posts == nil {
		d.Posts = []Post{}
	}
	if d.ModeratorCodes == nil {
		d.ModeratorCodes = []ModeratorCode{}
	}
	for i := range d.Posts {
		if d.Posts[i].LikedBy == nil {
			d.Posts[i].LikedBy = []string{}
		}
		if d.Posts[i].Fields == nil {
			d.Posts[i].Fields = map[string]json.RawMessage{}
		}
	}
}

func (d Document) Clone() Document {
	c := Document{
		Posts:          make([]Post, len(d.Posts)),
		ModeratorCodes: append([]ModeratorCode{}, d.ModeratorCodes...),
		IsNewYear:      d.IsNewYear,
	}
	for i, p := range d.Posts {
		c.Posts[i] = p.clone()
	}
	return c
}

func (d Document) findPost(id int64) int {
	for i := range d.Posts {
		if d.Posts[i].ID == id {
			return i
		}
	}
	return -1
}

func (d Document) findCode(id int64) int {
	for i := range d.ModeratorCodes {
		if d.ModeratorCodes[i].ID == id {
			return i
		}
	}
	return -1
}

func (d Document) maxID() int64 {
	var m int64
	for _, p := range d.Posts {
		if p.ID > m {
			m = p.ID
		}
	}
	for _, c := range d.ModeratorCodes {
		if c.ID > m {
			m = c.ID
		}
	}
	return m
}
