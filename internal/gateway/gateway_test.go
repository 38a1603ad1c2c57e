package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/models"
	"github.com/openagora/agora/internal/store"
	"github.com/openagora/agora/internal/view"
)

type fakePostLister struct {
	mu    sync.Mutex
	posts []models.Post
}

func (f *fakePostLister) ListByCommunity(ctx context.Context, communityID, sort string) ([]models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Post, len(f.posts))
	copy(out, f.posts)
	return out, nil
}

type fakeCommentLister struct{}

func (fakeCommentLister) ListByPost(ctx context.Context, postID, sort string) ([]models.Comment, error) {
	return nil, nil
}

func testServer(t *testing.T, allowJoin bool) (*httptest.Server, *bus.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := bus.New(nil)
	b.HandleRequests(bus.KindRoomJoin, func(ctx context.Context, identity string, payload interface{}) bus.Ack {
		if allowJoin {
			return bus.Ack{OK: true}
		}
		return bus.Ack{OK: false, Error: bus.ReasonJoinDenied}
	})

	posts := &fakePostLister{posts: []models.Post{{ID: "p1", CommunityID: "c1", Title: "hello"}}}
	adapter := store.NewAdapter(posts, fakeCommentLister{}, nil, 20*time.Millisecond)

	engine := gin.New()
	New(b, adapter, view.Config{
		JoinAckTimeout:   time.Second,
		DeleteAckTimeout: time.Second,
	}).SetupRoutes(engine)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, b
}

func dial(t *testing.T, srv *httptest.Server, identity string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	if identity != "" {
		header.Set(identityHeader, identity)
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return frame
}

// readUntil skips frames of other kinds; view updates and acks interleave
// without ordering guarantees.
func readUntil(t *testing.T, ws *websocket.Conn, kind string) Frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		frame := readFrame(t, ws)
		if frame.Kind == kind {
			return frame
		}
	}
	t.Fatalf("never received a %s frame", kind)
	return Frame{}
}

func TestServeRejectsMissingIdentity(t *testing.T) {
	srv, _ := testServer(t, true)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without identity succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}
}

func TestOpenCommunityViewStreamsUpdates(t *testing.T) {
	srv, _ := testServer(t, true)
	ws := dial(t, srv, "alice")

	open := Frame{
		Kind:      frameViewOpen,
		RequestID: "r1",
		Payload:   json.RawMessage(`{"viewType":"community","communityId":"c1","sort":"created_desc"}`),
	}
	if err := ws.WriteJSON(open); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	ack := readUntil(t, ws, frameAck)
	if ack.RequestID != "r1" {
		t.Fatalf("ack requestId = %q, want r1", ack.RequestID)
	}
	var ackBody ackPayload
	if err := json.Unmarshal(ack.Payload, &ackBody); err != nil || !ackBody.OK {
		t.Fatalf("ack = %+v, want ok", ackBody)
	}

	update := readUntil(t, ws, frameViewUpdate)
	var body struct {
		ViewID string        `json:"viewId"`
		Posts  []models.Post `json:"posts"`
	}
	if err := json.Unmarshal(update.Payload, &body); err != nil {
		t.Fatalf("decoding update: %v", err)
	}
	if len(body.Posts) != 1 || body.Posts[0].ID != "p1" {
		t.Errorf("update posts = %v, want [p1]", body.Posts)
	}
}

func TestOpenCommunityViewJoinDenied(t *testing.T) {
	srv, _ := testServer(t, false)
	ws := dial(t, srv, "mallory")

	open := Frame{
		Kind:      frameViewOpen,
		RequestID: "r1",
		Payload:   json.RawMessage(`{"viewType":"community","communityId":"c1"}`),
	}
	if err := ws.WriteJSON(open); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	ack := readUntil(t, ws, frameAck)
	var ackBody ackPayload
	if err := json.Unmarshal(ack.Payload, &ackBody); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if ackBody.OK || ackBody.Error != "join-denied" {
		t.Errorf("ack = %+v, want join-denied", ackBody)
	}
}

func TestSlowJoinDoesNotBlockFrames(t *testing.T) {
	gin.SetMode(gin.TestMode)

	release := make(chan struct{})
	b := bus.New(nil)
	b.HandleRequests(bus.KindRoomJoin, func(ctx context.Context, identity string, payload interface{}) bus.Ack {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return bus.Ack{OK: true}
	})

	posts := &fakePostLister{}
	adapter := store.NewAdapter(posts, fakeCommentLister{}, nil, 20*time.Millisecond)

	engine := gin.New()
	New(b, adapter, view.Config{
		JoinAckTimeout:   5 * time.Second,
		DeleteAckTimeout: time.Second,
	}).SetupRoutes(engine)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	ws := dial(t, srv, "alice")

	open := Frame{
		Kind:      frameViewOpen,
		RequestID: "r1",
		Payload:   json.RawMessage(`{"viewType":"community","communityId":"c1"}`),
	}
	if err := ws.WriteJSON(open); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
	if err := ws.WriteJSON(Frame{Kind: "bogus", RequestID: "r2"}); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	// The open is still waiting on its join ack, so the first ack back must
	// answer the second frame.
	ack := readUntil(t, ws, frameAck)
	if ack.RequestID != "r2" {
		t.Fatalf("first ack requestId = %q, want r2", ack.RequestID)
	}

	close(release)
	for i := 0; i < 10; i++ {
		frame := readUntil(t, ws, frameAck)
		if frame.RequestID != "r1" {
			continue
		}
		var ackBody ackPayload
		if err := json.Unmarshal(frame.Payload, &ackBody); err != nil || !ackBody.OK {
			t.Fatalf("open ack = %+v, want ok", ackBody)
		}
		return
	}
	t.Fatal("never received the view open ack")
}

func TestUnknownFrameKindIsAcked(t *testing.T) {
	srv, _ := testServer(t, true)
	ws := dial(t, srv, "alice")

	if err := ws.WriteJSON(Frame{Kind: "bogus", RequestID: "r9"}); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
	ack := readUntil(t, ws, frameAck)
	var ackBody ackPayload
	if err := json.Unmarshal(ack.Payload, &ackBody); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if ackBody.OK {
		t.Error("unknown frame kind acked as success")
	}
}

func TestMembershipQuery(t *testing.T) {
	srv, _ := testServer(t, true)
	ws := dial(t, srv, "alice")

	open := Frame{
		Kind:      frameViewOpen,
		RequestID: "r1",
		Payload:   json.RawMessage(`{"viewType":"community","communityId":"c1"}`),
	}
	if err := ws.WriteJSON(open); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
	readUntil(t, ws, frameAck)

	query := Frame{
		Kind:      frameMembership,
		RequestID: "r2",
		Payload:   json.RawMessage(`{"communityId":"c1"}`),
	}
	if err := ws.WriteJSON(query); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	for i := 0; i < 10; i++ {
		frame := readUntil(t, ws, frameAck)
		if frame.RequestID != "r2" {
			continue
		}
		var ackBody struct {
			OK   bool `json:"ok"`
			Data struct {
				State string `json:"state"`
				Acked bool   `json:"acked"`
			} `json:"data"`
		}
		if err := json.Unmarshal(frame.Payload, &ackBody); err != nil {
			t.Fatalf("decoding ack: %v", err)
		}
		if !ackBody.OK || ackBody.Data.State != "joined" || !ackBody.Data.Acked {
			t.Errorf("membership = %+v, want joined and acked", ackBody.Data)
		}
		return
	}
	t.Fatal("never received the membership ack")
}
