/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Seednode/happyangrysurprised/blob"
	"github.com/Seednode/happyangrysurprised/emotion"
	"github.com/Seednode/happyangrysurprised/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

const waitFor = 5 * time.Second

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, c)
		}
	}

	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

type fakeCamera struct {
	photo []byte
	err   error
	calls atomic.Int32
}

func (f *fakeCamera) Capture(ctx context.Context, gameID string) ([]byte, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.photo, f.err
}

// fakeBlobs pretends to be a bucket, so photos are handed to the detector by
// URI.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Write(ctx context.Context, key string, data []byte) (blob.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := "gs://test/" + key
	f.objects[path] = data

	return blob.Object{Path: path, DownloadURL: "https://example.com/" + key}, nil
}

func (f *fakeBlobs) Read(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[path]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

// fakeDetector labels URIs by player and inline photos by colour: reddish
// photos are happy, everything else angry.
type fakeDetector struct {
	byPlayer map[string]session.Emotion
	err      error
}

func (d fakeDetector) Detect(ctx context.Context, img emotion.Image) (session.Emotion, error) {
	if d.err != nil {
		return "", d.err
	}

	for uid, e := range d.byPlayer {
		if img.URI != "" && strings.HasSuffix(img.URI, "/"+uid+".png") {
			return e, nil
		}
	}

	if len(img.Content) > 0 {
		decoded, _, err := image.Decode(bytes.NewReader(img.Content))
		if err != nil {
			return "", err
		}
		r, _, b, _ := decoded.At(0, 0).RGBA()
		if r > b {
			return session.Happy, nil
		}
		return session.Angry, nil
	}

	return session.Unknown, nil
}

type result struct {
	session *session.Session
	verdict Verdict
}

type fakeUI struct {
	mu       sync.Mutex
	states   []session.State
	pictures int
	notes    []error

	results   chan result
	abandoned chan string
}

func newFakeUI() *fakeUI {
	return &fakeUI{
		results:   make(chan result, 4),
		abandoned: make(chan string, 4),
	}
}

func (u *fakeUI) GameChanged(s *session.Session) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.states = append(u.states, s.State)
}

func (u *fakeUI) TakePicture(string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.pictures++
}

func (u *fakeUI) Result(s *session.Session, v Verdict) {
	u.results <- result{session: s, verdict: v}
}

func (u *fakeUI) Abandoned(id string) {
	u.abandoned <- id
}

func (u *fakeUI) Notify(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.notes = append(u.notes, err)
}

func (u *fakeUI) seen() []session.State {
	u.mu.Lock()
	defer u.mu.Unlock()

	return append([]session.State(nil), u.states...)
}

func (u *fakeUI) notifications() []error {
	u.mu.Lock()
	defer u.mu.Unlock()

	return append([]error(nil), u.notes...)
}

func (u *fakeUI) waitResult(t *testing.T) result {
	t.Helper()

	select {
	case r := <-u.results:
		return r
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a result")
		return result{}
	}
}

func (u *fakeUI) waitAbandoned(t *testing.T) string {
	t.Helper()

	select {
	case id := <-u.abandoned:
		return id
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for the game to be abandoned")
		return ""
	}
}

type harness struct {
	t        *testing.T
	store    *session.MemoryStore
	blobs    blob.Store
	detector emotion.Detector
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:     t,
		store: session.NewMemoryStore(),
		blobs: newFakeBlobs(),
		detector: fakeDetector{byPlayer: map[string]session.Emotion{
			"alice": session.Happy,
			"bob":   session.Angry,
		}},
	}
}

type player struct {
	*Client
	ui     *fakeUI
	camera *fakeCamera
}

func (h *harness) player(uid string, countdown time.Duration, onComplete func(context.Context, *session.Session)) *player {
	ui := newFakeUI()
	camera := &fakeCamera{photo: solidPNG(h.t, color.RGBA{R: 200, A: 255})}

	c := New(Config{
		Store:      h.store,
		Blobs:      h.blobs,
		Detector:   h.detector,
		Camera:     camera,
		UI:         ui,
		User:       User{UID: uid, DisplayName: strings.ToUpper(uid[:1]) + uid[1:]},
		Countdown:  countdown,
		Logger:     zaptest.NewLogger(h.t),
		OnComplete: onComplete,
	})
	h.t.Cleanup(func() {
		_ = c.Close(context.Background())
	})

	return &player{Client: c, ui: ui, camera: camera}
}

func assertMonotonic(t *testing.T, states []session.State) {
	t.Helper()

	for i := 1; i < len(states); i++ {
		assert.True(t, states[i-1] <= states[i], "state went from %s back to %s", states[i-1], states[i])
	}
}

func TestFullGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	completed := make(chan *session.Session, 1)
	alice := h.player("alice", 10*time.Millisecond, func(_ context.Context, s *session.Session) {
		completed <- s
	})
	bob := h.player("bob", 10*time.Millisecond, nil)

	id, err := alice.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, alice.GameID())

	created, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.Open, created.State)
	assert.Equal(t, "alice", created.Creator.UID)
	assert.Equal(t, "Alice", created.Creator.DisplayName)
	assert.Nil(t, created.Joiner)

	require.NoError(t, bob.Join(ctx, id))
	assert.Equal(t, id, bob.GameID())

	aliceResult := alice.ui.waitResult(t)
	bobResult := bob.ui.waitResult(t)

	assert.Equal(t, Won, aliceResult.verdict)
	assert.Equal(t, Lost, bobResult.verdict)

	final, err := h.store.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, session.Complete, final.State)
	assert.Equal(t, session.Happy, final.Creator.Emotion)
	assert.Equal(t, session.Angry, final.Joiner.Emotion)
	assert.Equal(t, "gs://test/games/"+id+"/alice.png", final.Creator.ImagePath)
	assert.Equal(t, "gs://test/games/"+id+"/bob.png", final.Joiner.ImagePath)
	assert.Equal(t, "https://example.com/games/"+id+"/bob.png", final.Joiner.DownloadURL)
	require.NotNil(t, final.Creator.Wins)
	require.NotNil(t, final.Joiner.Wins)
	assert.True(t, *final.Creator.Wins)
	assert.False(t, *final.Joiner.Wins)

	select {
	case s := <-completed:
		assert.Equal(t, id, s.ID)
		assert.Equal(t, session.Complete, s.State)
	case <-time.After(waitFor):
		t.Fatal("completion was never reported")
	}

	assert.Equal(t, int32(1), alice.camera.calls.Load())
	assert.Equal(t, int32(1), bob.camera.calls.Load())

	assertMonotonic(t, alice.ui.seen())
	assertMonotonic(t, bob.ui.seen())

	assert.Eventually(t, func() bool {
		return alice.GameID() == "" && bob.GameID() == ""
	}, waitFor, 5*time.Millisecond)

	// Finished games stay around for the reaper.
	_, err = h.store.Get(ctx, id)
	assert.NoError(t, err)
	assert.ErrorIs(t, alice.Leave(ctx), ErrNoGame)
}

func TestFullGameWithLocalPhotos(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	local, err := blob.NewLocalStore(t.TempDir(), "/photos")
	require.NoError(t, err)
	h.blobs = local
	h.detector = fakeDetector{}

	alice := h.player("alice", 0, nil)
	bob := h.player("bob", 0, nil)
	bob.camera.photo = solidPNG(t, color.RGBA{B: 200, A: 255})

	id, err := alice.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, bob.Join(ctx, id))

	assert.Equal(t, Won, alice.ui.waitResult(t).verdict)
	assert.Equal(t, Lost, bob.ui.waitResult(t).verdict)

	final, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/photos/games/"+id+"/alice.png", final.Creator.DownloadURL)
}

func TestDraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.detector = fakeDetector{byPlayer: map[string]session.Emotion{
		"alice": session.Surprised,
		"bob":   session.Surprised,
	}}

	alice := h.player("alice", 0, nil)
	bob := h.player("bob", 0, nil)

	id, err := alice.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, bob.Join(ctx, id))

	assert.Equal(t, Draw, alice.ui.waitResult(t).verdict)
	assert.Equal(t, Draw, bob.ui.waitResult(t).verdict)
}

func TestCreateAndJoinErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.player("alice", time.Hour, nil)
	bob := h.player("bob", time.Hour, nil)
	carol := h.player("carol", time.Hour, nil)

	anonymous := New(Config{Store: h.store, UI: newFakeUI()})
	t.Cleanup(func() { _ = anonymous.Close(ctx) })

	_, err := anonymous.Create(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.ErrorIs(t, anonymous.Join(ctx, "whatever"), ErrNotLoggedIn)
	assert.ErrorIs(t, anonymous.Login(User{UID: "dave"}), ErrNotLoggedIn)

	id, err := alice.Create(ctx)
	require.NoError(t, err)

	_, err = alice.Create(ctx)
	assert.ErrorIs(t, err, ErrInGame)
	assert.ErrorIs(t, alice.Login(User{UID: "alice", DisplayName: "Al"}), ErrInGame)

	assert.ErrorIs(t, bob.Join(ctx, ""), ErrMissingGameID)
	assert.ErrorIs(t, bob.Join(ctx, "no-such-game"), session.ErrNotFound)
	assert.Empty(t, bob.GameID())

	require.NoError(t, bob.Join(ctx, id))
	assert.ErrorIs(t, bob.Join(ctx, id), ErrInGame)

	assert.ErrorIs(t, carol.Join(ctx, id), ErrAlreadyJoined)
	assert.Empty(t, carol.GameID())

	other, err := carol.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, carol.Leave(ctx))

	_, err = h.store.Get(ctx, other)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestJoinOwnGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.player("alice", time.Hour, nil)
	id, err := alice.Create(ctx)
	require.NoError(t, err)

	again := h.player("alice", time.Hour, nil)
	assert.ErrorIs(t, again.Join(ctx, id), ErrOwnGame)

	s, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, s.Joiner)
}

func TestConcurrentJoinHasOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.player("alice", time.Hour, nil)
	id, err := alice.Create(ctx)
	require.NoError(t, err)

	const joiners = 12

	players := make([]*player, joiners)
	for i := range players {
		players[i] = h.player("joiner"+string(rune('a'+i)), time.Hour, nil)
	}

	var (
		winners atomic.Int32
		losers  atomic.Int32
	)

	g := errgroup.Group{}
	for _, p := range players {
		p := p
		g.Go(func() error {
			err := p.Join(ctx, id)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, ErrAlreadyJoined):
				losers.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(joiners-1), losers.Load())

	s, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, s.Joiner)
	assert.Equal(t, session.Joined, s.State)

	var winner *player
	for _, p := range players {
		if p.GameID() == id {
			winner = p
		}
	}
	require.NotNil(t, winner)
	assert.Equal(t, winner.User().UID, s.Joiner.UID)
}

func TestCloseRemovesUnjoinedGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.player("alice", time.Hour, nil)
	id, err := alice.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, alice.Close(ctx))

	_, err = h.store.Get(ctx, id)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestCreateAfterCloseLeavesNoGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.player("alice", time.Hour, nil)
	require.NoError(t, alice.Close(ctx))

	_, err := alice.Create(ctx)
	require.ErrorIs(t, err, session.ErrConnectionClosed)
	assert.Empty(t, alice.GameID())

	open, err := h.store.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCloseKeepsJoinedGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.player("alice", time.Hour, nil)
	bob := h.player("bob", time.Hour, nil)

	id, err := alice.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, bob.Join(ctx, id))

	assert.Eventually(t, func() bool {
		return alice.conn.Pending() == 0
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, alice.Close(ctx))

	_, err = h.store.Get(ctx, id)
	assert.NoError(t, err)
}

func TestLeaveAbandonsGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.player("alice", time.Hour, nil)
	bob := h.player("bob", time.Hour, nil)

	id, err := alice.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, bob.Join(ctx, id))

	require.NoError(t, bob.Leave(ctx))
	assert.Empty(t, bob.GameID())

	assert.Equal(t, id, alice.ui.waitAbandoned(t))
	assert.Eventually(t, func() bool {
		return alice.GameID() == ""
	}, waitFor, 5*time.Millisecond)

	_, err = h.store.Get(ctx, id)
	assert.ErrorIs(t, err, session.ErrNotFound)

	select {
	case <-bob.ui.abandoned:
		t.Fatal("the player who left should not be told the game was abandoned")
	default:
	}

	_, err = alice.Create(ctx)
	assert.NoError(t, err)
}

func TestWatchOpenSkipsOwnGames(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := h.player("alice", time.Hour, nil)
	bob := h.player("bob", time.Hour, nil)

	var (
		mu      sync.Mutex
		aliceIn []string
		bobIn   []string
		bobOut  []string
	)
	collect := func(dst *[]string) func(*session.Session) {
		return func(s *session.Session) {
			mu.Lock()
			defer mu.Unlock()
			*dst = append(*dst, s.ID)
		}
	}

	require.NoError(t, alice.WatchOpen(ctx, collect(&aliceIn), func(*session.Session) {}))
	require.NoError(t, bob.WatchOpen(ctx, collect(&bobIn), collect(&bobOut)))

	id, err := alice.Create(ctx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bobIn) == 1
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, alice.Leave(ctx))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bobOut) == 1
	}, waitFor, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{id}, bobIn)
	assert.Equal(t, []string{id}, bobOut)
	assert.Empty(t, aliceIn)
}

func TestDetectionFailureNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.detector = fakeDetector{err: errors.New("vision unavailable")}

	alice := h.player("alice", 0, nil)
	bob := h.player("bob", 0, nil)

	id, err := alice.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, bob.Join(ctx, id))

	assert.Eventually(t, func() bool {
		return len(alice.ui.notifications()) == 1 && len(bob.ui.notifications()) == 1
	}, waitFor, 5*time.Millisecond)

	assert.ErrorContains(t, alice.ui.notifications()[0], "vision unavailable")

	s, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.UploadedPicture, s.State)
	assert.Empty(t, s.Creator.Emotion)
}

func TestCameraFailureNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.player("alice", 0, nil)
	bob := h.player("bob", 0, nil)
	bob.camera.err = errors.New("camera unplugged")

	id, err := alice.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, bob.Join(ctx, id))

	assert.Eventually(t, func() bool {
		return len(bob.ui.notifications()) == 1
	}, waitFor, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		s, err := h.store.Get(ctx, id)
		return err == nil && s.Creator.ImagePath != ""
	}, waitFor, 5*time.Millisecond)

	s, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.TakePicture, s.State)
	assert.Empty(t, s.Joiner.ImagePath)
	assert.Empty(t, alice.ui.notifications())
}

func TestCatchUpRunsEachStateOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	alice := h.player("alice", 0, nil)

	// A record that already went through photos and detection before this
	// client started watching it.
	id, err := h.store.Create(ctx, &session.Session{
		State: session.FaceDetected,
		Creator: session.Player{
			UID:       "alice",
			ImagePath: "gs://test/games/x/alice.png",
			Emotion:   session.Angry,
		},
		Joiner: &session.Player{
			UID:       "bob",
			ImagePath: "gs://test/games/x/bob.png",
			Emotion:   session.Surprised,
		},
	})
	require.NoError(t, err)

	alice.mu.Lock()
	err = alice.watchLocked(id)
	alice.mu.Unlock()
	require.NoError(t, err)

	r := alice.ui.waitResult(t)
	assert.Equal(t, Won, r.verdict)
	assert.Equal(t, int32(0), alice.camera.calls.Load())

	alice.ui.mu.Lock()
	defer alice.ui.mu.Unlock()
	assert.Equal(t, 0, alice.ui.pictures)
}
