package push

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/internal/watch"
)

func TestDeriveURL(t *testing.T) {
	tests := []struct {
		name       string
		origin     string
		advertised string
		want       string
	}{
		{
			name:       "http origin",
			origin:     "http://localhost:8000",
			advertised: "http://nefarious-internal:9000/ws",
			want:       "ws://localhost:8000/ws",
		},
		{
			name:       "https origin upgrades to wss",
			origin:     "https://media.example.com",
			advertised: "http://backend/push/channel",
			want:       "wss://media.example.com/push/channel",
		},
		{
			name:       "advertised host is ignored",
			origin:     "http://127.0.0.1:9090",
			advertised: "ws://container-name:1234/ws",
			want:       "ws://127.0.0.1:9090/ws",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveURL(tt.origin, tt.advertised)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// frameServer is a websocket test server that records connection attempts
// and pushes raw frames to the most recent client.
type frameServer struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	attempts []time.Time
	rejectN  int
	conns    []*websocket.Conn
	lastConn *websocket.Conn
}

func newFrameServer(t *testing.T, rejectN int) *frameServer {
	t.Helper()

	fs := &frameServer{rejectN: rejectN}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.attempts = append(fs.attempts, time.Now())
		attempt := len(fs.attempts)
		fs.mu.Unlock()

		if attempt <= fs.rejectN {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := fs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.lastConn = conn
		fs.mu.Unlock()

		// hold the connection open until the client or test closes it
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() {
		fs.mu.Lock()
		for _, conn := range fs.conns {
			conn.Close()
		}
		fs.mu.Unlock()
		fs.Close()
	})
	return fs
}

func (fs *frameServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func (fs *frameServer) attemptTimes() []time.Time {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]time.Time(nil), fs.attempts...)
}

func (fs *frameServer) send(t *testing.T, raw string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fs.mu.Lock()
		conn := fs.lastConn
		fs.mu.Unlock()
		if conn != nil {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no websocket client connected in time")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

type received struct {
	kind   watch.Kind
	action watch.Action
	data   json.RawMessage
}

func newTestChannel(t *testing.T, url string, delay time.Duration) (*Channel, func() []received) {
	t.Helper()

	var mu sync.Mutex
	var frames []received

	ch := New(Config{
		URL: url,
		Handler: func(kind watch.Kind, action watch.Action, data json.RawMessage) {
			mu.Lock()
			frames = append(frames, received{kind, action, data})
			mu.Unlock()
		},
		ReconnectDelay: delay,
		// a dial still in flight at Stop may log after the test body
		// returns, so t.Log is off limits here
		Logger: zerolog.Nop(),
	})
	t.Cleanup(ch.Stop)

	return ch, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), frames...)
	}
}

func TestChannel_DeliversFrames(t *testing.T) {
	fs := newFrameServer(t, 0)
	ch, frames := newTestChannel(t, fs.wsURL(), 20*time.Millisecond)

	ch.Start()
	waitFor(t, func() bool { return ch.State() == Open }, "channel never opened")

	fs.send(t, `{"type":"MOVIE","action":"UPDATED","data":{"id":1,"name":"Alien"}}`)
	waitFor(t, func() bool { return len(frames()) == 1 }, "frame never delivered")

	got := frames()[0]
	assert.Equal(t, watch.KindMovie, got.kind)
	assert.Equal(t, watch.ActionUpdated, got.action)
}

func TestChannel_DropsMalformedAndUnknownFrames(t *testing.T) {
	fs := newFrameServer(t, 0)
	ch, frames := newTestChannel(t, fs.wsURL(), 20*time.Millisecond)

	ch.Start()
	waitFor(t, func() bool { return ch.State() == Open }, "channel never opened")

	fs.send(t, `this is not json`)
	fs.send(t, `{"type":"LASERDISC","action":"UPDATED","data":{"id":1}}`)
	fs.send(t, `{"type":"TV_SHOW","action":"REMOVED","data":{"id":2}}`)

	// only the valid frame arrives, and the channel stayed open throughout
	waitFor(t, func() bool { return len(frames()) == 1 }, "valid frame never delivered")
	assert.Equal(t, watch.KindTVShow, frames()[0].kind)
	assert.Equal(t, Open, ch.State())
}

func TestChannel_ReconnectsIndefinitelyAtFixedDelay(t *testing.T) {
	const delay = 25 * time.Millisecond

	fs := newFrameServer(t, 5)
	ch, _ := newTestChannel(t, fs.wsURL(), delay)

	ch.Start()

	// five rejected attempts, then the sixth succeeds
	waitFor(t, func() bool { return ch.State() == Open }, "channel never recovered")
	attempts := fs.attemptTimes()
	require.GreaterOrEqual(t, len(attempts), 6)

	// each retry waits at least the fixed delay
	for i := 1; i < len(attempts); i++ {
		gap := attempts[i].Sub(attempts[i-1])
		assert.GreaterOrEqual(t, gap, delay, "retry %d came too soon", i)
	}
}

func TestChannel_ReconnectsAfterServerCloses(t *testing.T) {
	fs := newFrameServer(t, 0)
	ch, _ := newTestChannel(t, fs.wsURL(), 20*time.Millisecond)

	ch.Start()
	waitFor(t, func() bool { return ch.State() == Open }, "channel never opened")

	fs.mu.Lock()
	fs.lastConn.Close()
	fs.mu.Unlock()

	waitFor(t, func() bool { return len(fs.attemptTimes()) >= 2 && ch.State() == Open },
		"channel never reconnected after close")
}

func TestChannel_StopPreventsReconnect(t *testing.T) {
	fs := newFrameServer(t, 1000) // always reject
	ch, _ := newTestChannel(t, fs.wsURL(), 10*time.Millisecond)

	ch.Start()
	waitFor(t, func() bool { return len(fs.attemptTimes()) >= 2 }, "no retry observed")

	ch.Stop()
	settled := len(fs.attemptTimes())
	time.Sleep(100 * time.Millisecond)

	// one attempt may have been in flight at Stop; none are scheduled after
	assert.LessOrEqual(t, len(fs.attemptTimes()), settled+1)
	assert.Equal(t, Disconnected, ch.State())
}
