package board

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"liveboard/internal/protocol"
)

func TestCreate_AssignsServerFields(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.Create(fields(t, `{"title":"A","id":5,"views":99,"likes":7,"likedBy":["x"]}`))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID != 1_700_000_000_000 {
		t.Fatalf("id=%d want clock millis", p.ID)
	}
	if p.Views != 0 || p.Likes != 0 || len(p.LikedBy) != 0 {
		t.Fatalf("server fields not reset: %+v", p)
	}
	if string(p.Field("title")) != `"A"` {
		t.Fatalf("title=%s", p.Field("title"))
	}

	ev := f.bc.last(t)
	if ev.Event != protocol.EventPostsUpdated {
		t.Fatalf("event=%s want %s", ev.Event, protocol.EventPostsUpdated)
	}
	var got []map[string]any
	if err := json.Unmarshal(ev.Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(got) != 1 || got[0]["title"] != "A" || got[0]["likes"].(float64) != 0 {
		t.Fatalf("broadcast payload mismatch: %s", ev.Payload)
	}

	persisted := f.store.Load()
	if len(persisted.Posts) != 1 || persisted.Posts[0].ID != p.ID {
		t.Fatalf("persisted=%+v", persisted.Posts)
	}
}

func TestCreate_NewestFirstAndUniqueIDs(t *testing.T) {
	f := newFixture(t)
	a, _ := f.svc.Create(fields(t, `{"title":"A"}`))
	b, _ := f.svc.Create(fields(t, `{"title":"B"}`))
	if b.ID <= a.ID {
		t.Fatalf("ids not increasing within one millisecond: a=%d b=%d", a.ID, b.ID)
	}
	posts := f.svc.List()
	if len(posts) != 2 || posts[0].ID != b.ID || posts[1].ID != a.ID {
		t.Fatalf("order mismatch: %+v", posts)
	}
}

func TestUpdate_ShallowMerge(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(fields(t, `{"title":"A","body":"old","meta":{"x":1}}`))
	_, _ = f.svc.ToggleLike(p.ID, "v1")

	u, err := f.svc.Update(p.ID, fields(t, `{"body":"new","meta":{"y":2},"likes":50}`))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if string(u.Field("title")) != `"A"` || string(u.Field("body")) != `"new"` {
		t.Fatalf("merge mismatch: %+v", u.Fields)
	}
	if string(u.Field("meta")) != `{"y":2}` {
		t.Fatalf("merge must be shallow: meta=%s", u.Field("meta"))
	}
	if u.Likes != 1 || len(u.LikedBy) != 1 {
		t.Fatalf("server-owned likes must survive update: %+v", u)
	}
	if f.bc.last(t).Event != protocol.EventPostsUpdated {
		t.Fatalf("update should broadcast posts-updated")
	}
}

func TestUpdate_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Update(42, fields(t, `{"title":"x"}`)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
	if f.bc.count() != 0 || f.store.saves != 0 {
		t.Fatalf("not-found update must not save or broadcast")
	}
}

func TestDelete_Idempotent(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(fields(t, `{"title":"A"}`))

	if err := f.svc.Delete(p.ID + 1000); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if posts := f.svc.List(); len(posts) != 1 || posts[0].ID != p.ID {
		t.Fatalf("deleting a missing id changed posts: %+v", posts)
	}
	if err := f.svc.Delete(p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.svc.Delete(p.ID); err != nil {
		t.Fatalf("Delete twice: %v", err)
	}
	if posts := f.svc.List(); len(posts) != 0 {
		t.Fatalf("posts=%d want 0", len(posts))
	}
	if ev := f.bc.last(t); ev.Event != protocol.EventPostsUpdated || string(ev.Payload) != "[]" {
		t.Fatalf("last broadcast=%s %s", ev.Event, ev.Payload)
	}
}

func TestPosts_ReplayMatchesModel(t *testing.T) {
	f := newFixture(t)
	r := rand.New(rand.NewPCG(7, 7))

	type modelPost struct {
		id    int64
		title string
	}
	var model []modelPost

	for step := 0; step < 200; step++ {
		f.clock.t = f.clock.t.Add(time.Duration(r.IntN(3)) * time.Millisecond)
		switch op := r.IntN(3); {
		case op == 0 || len(model) == 0:
			title := string(rune('a' + r.IntN(26)))
			p, err := f.svc.Create(fields(t, `{"title":"`+title+`"}`))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			model = append([]modelPost{{id: p.ID, title: title}}, model...)
		case op == 1:
			i := r.IntN(len(model))
			title := string(rune('A' + r.IntN(26)))
			if _, err := f.svc.Update(model[i].id, fields(t, `{"title":"`+title+`"}`)); err != nil {
				t.Fatalf("Update: %v", err)
			}
			model[i].title = title
		default:
			i := r.IntN(len(model))
			if err := f.svc.Delete(model[i].id); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			model = append(model[:i], model[i+1:]...)
		}

		persisted := f.store.Load().Posts
		if len(persisted) != len(model) {
			t.Fatalf("step %d: persisted=%d model=%d", step, len(persisted), len(model))
		}
		for i := range model {
			if persisted[i].ID != model[i].id || string(persisted[i].Field("title")) != `"`+model[i].title+`"` {
				t.Fatalf("step %d idx %d: persisted=%d/%s model=%d/%s", step, i,
					persisted[i].ID, persisted[i].Field("title"), model[i].id, model[i].title)
			}
		}
	}
}

func TestRecordView_RealAndSynthetic(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(fields(t, `{"title":"A"}`))

	views, err := f.svc.RecordView(p.ID, false)
	if err != nil || views != 1 {
		t.Fatalf("real view: views=%d err=%v", views, err)
	}
	saves := f.store.saves

	views, err = f.svc.RecordView(p.ID, true)
	if err != nil || views != 1 {
		t.Fatalf("synthetic view: views=%d err=%v", views, err)
	}
	if f.store.saves != saves {
		t.Fatalf("synthetic view must not persist")
	}
	if got := f.store.Load().Posts[0].Views; got != 1 {
		t.Fatalf("persisted views=%d want 1", got)
	}
	ev := f.bc.last(t)
	if ev.Event != protocol.EventPostStatsUpdated {
		t.Fatalf("synthetic view must still broadcast stats, got %s", ev.Event)
	}
	var st protocol.PostStats
	_ = json.Unmarshal(ev.Payload, &st)
	if st.ID != p.ID || st.Views != 1 || st.Likes != 0 {
		t.Fatalf("stats=%+v", st)
	}

	if _, err := f.svc.RecordView(p.ID+1, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestToggleLike_Scenario(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(fields(t, `{"title":"A"}`))
	if p.Views != 0 || p.Likes != 0 {
		t.Fatalf("fresh post: %+v", p)
	}

	res, err := f.svc.ToggleLike(p.ID, "v1")
	if err != nil || res.Likes != 1 || !res.IsLiked {
		t.Fatalf("first toggle: %+v err=%v", res, err)
	}
	res, err = f.svc.ToggleLike(p.ID, "v1")
	if err != nil || res.Likes != 0 || res.IsLiked {
		t.Fatalf("second toggle: %+v err=%v", res, err)
	}

	if _, err := f.svc.ToggleLike(p.ID+1, "v1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestToggleLike_InvolutionAndCountInvariant(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(fields(t, `{"title":"A"}`))
	r := rand.New(rand.NewPCG(3, 9))
	visitors := []string{"v1", "v2", "v3", "v4"}

	for i := 0; i < 100; i++ {
		v := visitors[r.IntN(len(visitors))]
		before := f.store.Load().Posts[0]

		if _, err := f.svc.ToggleLike(p.ID, v); err != nil {
			t.Fatalf("toggle: %v", err)
		}
		mid := f.store.Load().Posts[0]
		if mid.Likes != int64(len(mid.LikedBy)) {
			t.Fatalf("likes=%d likedBy=%d", mid.Likes, len(mid.LikedBy))
		}

		if _, err := f.svc.ToggleLike(p.ID, v); err != nil {
			t.Fatalf("toggle back: %v", err)
		}
		after := f.store.Load().Posts[0]
		if after.Likes != before.Likes || (after.liked(v) >= 0) != (before.liked(v) >= 0) {
			t.Fatalf("toggle twice is not identity: before=%+v after=%+v", before, after)
		}

		// Leave the state shuffled for the next round.
		if r.IntN(2) == 0 {
			_, _ = f.svc.ToggleLike(p.ID, v)
		}
	}
}

func TestToggleLike_RepairsLegacyCount(t *testing.T) {
	f := newFixture(t)
	f.store.raw = []byte(`{"posts":[{"id":1,"views":2.0,"likes":5,"likedBy":["a",null,"b"]}]}`)

	res, err := f.svc.ToggleLike(1, "a")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if res.Likes != 1 || res.IsLiked {
		t.Fatalf("res=%+v want likes=1 isLiked=false", res)
	}
	if got := f.store.Load().Posts[0]; got.Views != 2 || got.Likes != int64(len(got.LikedBy)) {
		t.Fatalf("legacy post not normalised: %+v", got)
	}
}

func TestMutations_StoreFailureLeavesStateAndSkipsBroadcast(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(fields(t, `{"title":"A"}`))
	before := string(f.store.raw)
	events := f.bc.count()
	f.store.failErr = errDiskFull

	if _, err := f.svc.Create(fields(t, `{"title":"B"}`)); !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, errDiskFull) {
		t.Fatalf("create err=%v", err)
	}
	if _, err := f.svc.Update(p.ID, fields(t, `{"title":"C"}`)); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("update err=%v", err)
	}
	if err := f.svc.Delete(p.ID); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("delete err=%v", err)
	}
	if _, err := f.svc.RecordView(p.ID, false); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("view err=%v", err)
	}
	if _, err := f.svc.ToggleLike(p.ID, "v"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("like err=%v", err)
	}
	if string(f.store.raw) != before {
		t.Fatalf("document changed on failed writes")
	}
	if f.bc.count() != events {
		t.Fatalf("broadcast sent on failed write: %d -> %d", events, f.bc.count())
	}
}

func TestMutations_AuditTrail(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(fields(t, `{"title":"A"}`))
	_, _ = f.svc.RecordView(p.ID, false)
	_, _ = f.svc.RecordView(p.ID, true)
	_, _ = f.svc.ToggleLike(p.ID, "v1")
	_, _ = f.svc.ToggleLike(p.ID, "v1")
	_ = f.svc.Delete(p.ID)

	want := []string{OpCreate, OpView, OpLike, OpUnlike, OpDelete}
	if len(f.audit.entries) != len(want) {
		t.Fatalf("audit entries=%d want %d: %+v", len(f.audit.entries), len(want), f.audit.entries)
	}
	for i, op := range want {
		if f.audit.entries[i].Op != op || f.audit.entries[i].PostID != p.ID {
			t.Fatalf("entry %d = %+v want op %s", i, f.audit.entries[i], op)
		}
	}
}
