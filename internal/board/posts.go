package board

import (
	"encoding/json"

	"liveboard/internal/protocol"
)

type LikeResult struct {
	Likes   int64 `json:"likes"`
	IsLiked bool  `json:"isLiked"`
}

// List returns the posts, newest first.
func (s *Service) List() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().Posts
}

// Create stores a new post built from the author fields and broadcasts the
// full list.
func (s *Service) Create(fields map[string]json.RawMessage) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	p := Post{
		ID:      s.nextID(doc),
		LikedBy: []string{},
		Fields:  make(map[string]json.RawMessage, len(fields)),
	}
	mergeFields(p.Fields, fields)

	doc.Posts = append([]Post{p}, doc.Posts...)
	if err := s.save(doc); err != nil {
		return Post{}, err
	}
	s.broadcast(protocol.EventPostsUpdated, doc.Posts)
	s.record(AuditEntry{Op: OpCreate, PostID: p.ID})
	s.log.Infow("post created", "id", p.ID, "posts", len(doc.Posts))
	return p, nil
}

// Update shallow-merges partial over the stored post. Server-owned keys in
// partial are ignored.
func (s *Service) Update(id int64, partial map[string]json.RawMessage) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	i := doc.findPost(id)
	if i < 0 {
		return Post{}, ErrNotFound
	}
	mergeFields(doc.Posts[i].Fields, partial)
	if err := s.save(doc); err != nil {
		return Post{}, err
	}
	s.broadcast(protocol.EventPostsUpdated, doc.Posts)
	s.record(AuditEntry{Op: OpUpdate, PostID: id})
	return doc.Posts[i], nil
}

// Delete removes every post with id. Deleting a missing id succeeds.
func (s *Service) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	kept := doc.Posts[:0]
	for _, p := range doc.Posts {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	doc.Posts = kept
	if err := s.save(doc); err != nil {
		return err
	}
	s.broadcast(protocol.EventPostsUpdated, doc.Posts)
	s.record(AuditEntry{Op: OpDelete, PostID: id})
	return nil
}

// RecordView counts a view from a real actor. Synthetic actors leave the
// counter untouched but still trigger the stats broadcast.
func (s *Service) RecordView(id int64, synthetic bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	i := doc.findPost(id)
	if i < 0 {
		return 0, ErrNotFound
	}
	p := &doc.Posts[i]
	if !synthetic {
		p.Views++
		if err := s.save(doc); err != nil {
			return 0, err
		}
		s.record(AuditEntry{Op: OpView, PostID: id, Views: p.Views})
	}
	s.broadcast(protocol.EventPostStatsUpdated, protocol.PostStats{ID: id, Views: p.Views, Likes: p.Likes})
	return p.Views, nil
}

// ToggleLike adds visitorID to the post's likes, or removes it when already
// present. Two calls with the same visitor restore the original state.
func (s *Service) ToggleLike(id int64, visitorID string) (LikeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	i := doc.findPost(id)
	if i < 0 {
		return LikeResult{}, ErrNotFound
	}
	p := &doc.Posts[i]
	op := OpLike
	if j := p.liked(visitorID); j >= 0 {
		p.LikedBy = append(p.LikedBy[:j], p.LikedBy[j+1:]...)
		op = OpUnlike
	} else {
		p.LikedBy = append(p.LikedBy, visitorID)
	}
	p.Likes = int64(len(p.LikedBy))

	if err := s.save(doc); err != nil {
		return LikeResult{}, err
	}
	s.broadcast(protocol.EventPostStatsUpdated, protocol.PostStats{ID: id, Views: p.Views, Likes: p.Likes})
	s.record(AuditEntry{Op: op, PostID: id, Actor: visitorID, Likes: p.Likes})
	return LikeResult{Likes: p.Likes, IsLiked: op == OpLike}, nil
}

func mergeFields(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		if isServerKey(k) {
			continue
		}
		dst[k] = v
	}
}
