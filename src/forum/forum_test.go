package forum

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soch-community/sochbot/src/db"
	"github.com/soch-community/sochbot/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const forumID = "1000"

var epoch = time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = epoch.Add(d)
}

type harness struct {
	*Engine
	store    *memStore
	platform *fakePlatform
	clock    *testClock
}

func testConfig() Config {
	return Config{
		ChannelIDs:      []string{forumID},
		BumpCooldown:    6 * time.Hour,
		StrikeThreshold: 3,
		BanDuration:     24 * time.Hour,
		CommandPrefixes: []string{"/", "!"},
		NoticeTTL:       5 * time.Second,
		RemakeDelay:     5 * time.Second,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	platform := newFakePlatform()
	clock := &testClock{t: epoch}
	return &harness{
		Engine:   NewEngine(testConfig(), store, platform).WithClock(clock.Now),
		store:    store,
		platform: platform,
		clock:    clock,
	}
}

func (h *harness) create(t *testing.T, threadID, ownerID, body string) []Intent {
	t.Helper()
	h.platform.create(threadID)
	intents, err := h.ThreadCreated(context.Background(), ThreadInfo{
		ThreadID:    threadID,
		ParentID:    forumID,
		OwnerID:     ownerID,
		OpeningBody: &body,
	})
	require.Nil(t, err)
	return intents
}

func (h *harness) chat(t *testing.T, threadID, messageID, authorID, content string) []Intent {
	t.Helper()
	intents, err := h.MessageCreated(context.Background(), MessageInfo{
		MessageID: messageID,
		ThreadID:  threadID,
		AuthorID:  authorID,
		Content:   content,
	})
	require.Nil(t, err)
	return intents
}

func (h *harness) tracked(threadID string) bool {
	_, err := h.store.FindThread(context.Background(), threadID)
	return err == nil
}

func intentsOf[T Intent](intents []Intent) []T {
	var res []T
	for _, intent := range intents {
		if v, ok := intent.(T); ok {
			res = append(res, v)
		}
	}
	return res
}

func assertClosed(t *testing.T, intents []Intent, threadID string) {
	t.Helper()
	assert.Contains(t, intents, LockThread{ThreadID: threadID})
	assert.Contains(t, intents, ArchiveThread{ThreadID: threadID})
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", Fingerprint(""))
	assert.Equal(t, Fingerprint("Kingdom 1234 recruiting"), Fingerprint("  Kingdom 1234 recruiting\n"))
	assert.Equal(t, Fingerprint("a\nb"), Fingerprint("a\r\nb"))
	assert.NotEqual(t, Fingerprint("Kingdom 1234 recruiting"), Fingerprint("Kingdom 1235 recruiting"))
}

func TestSingleActivePost(t *testing.T) {
	h := newHarness(t)

	intents := h.create(t, "T1", "U1", "Kingdom 1234 recruiting")
	infos := intentsOf[PostInfo](intents)
	require.Len(t, infos, 1)
	assert.Equal(t, "T1", infos[0].ThreadID)
	assert.Equal(t, epoch, infos[0].Info.LastBumped)
	assert.Equal(t, epoch.Add(6*time.Hour), infos[0].Info.NextBump)

	t1, err := h.store.FindThread(context.Background(), "T1")
	require.Nil(t, err)
	assert.Equal(t, "U1", t1.OwnerID)
	assert.Equal(t, Fingerprint("Kingdom 1234 recruiting"), *t1.ContentFingerprint)

	h.clock.Set(10 * time.Second)
	for _, id := range []string{"T2", "T3"} {
		intents = h.create(t, id, "U1", "Something else entirely "+id)
		assertClosed(t, intents, id)
		messages := intentsOf[SendMessage](intents)
		require.Len(t, messages, 1)
		assert.Equal(t, id, messages[0].ChannelID)
		assert.Contains(t, messages[0].Content, "Limit Reached")
		assert.Contains(t, messages[0].Content, "<#T1>")
		assert.Empty(t, intentsOf[PostInfo](intents))
		assert.False(t, h.tracked(id))
	}

	after, err := h.store.FindThread(context.Background(), "T1")
	require.Nil(t, err)
	assert.Equal(t, *t1, *after)
}

func TestStaleThreadIsReclaimed(t *testing.T) {
	h := newHarness(t)
	h.create(t, "T1", "U1", "first post")
	h.platform.remove("T1")

	intents := h.create(t, "T2", "U1", "second post")
	assert.Len(t, intentsOf[PostInfo](intents), 1)
	assert.Empty(t, intentsOf[LockThread](intents))
	assert.True(t, h.tracked("T2"))
	assert.False(t, h.tracked("T1"))
}

func TestReplayedThreadCreate(t *testing.T) {
	h := newHarness(t)
	h.create(t, "T1", "U1", "post")

	intents := h.create(t, "T1", "U1", "post")
	assert.Empty(t, intents)
	assert.True(t, h.tracked("T1"))
}

func TestDuplicateContent(t *testing.T) {
	h := newHarness(t)
	h.create(t, "T1", "U1", "Kingdom 1234 recruiting")

	intents := h.create(t, "T3", "U2", "Kingdom 1234 recruiting")
	assertClosed(t, intents, "T1")
	messages := intentsOf[SendMessage](intents)
	require.Len(t, messages, 1)
	assert.Equal(t, "T1", messages[0].ChannelID)
	assert.Contains(t, messages[0].Content, "Duplicate Content Detected")
	assert.Len(t, intentsOf[AuditLog](intents), 1)

	assert.False(t, h.tracked("T1"))
	assert.True(t, h.tracked("T3"))
	assert.NotContains(t, intents, LockThread{ThreadID: "T3"})
}

func TestUnfetchableBodiesCollide(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"T1", "T2"} {
		h.platform.create(id)
		_, err := h.ThreadCreated(context.Background(), ThreadInfo{ThreadID: id, ParentID: forumID, OwnerID: "owner-" + id})
		require.Nil(t, err)
	}
	assert.False(t, h.tracked("T1"))
	assert.True(t, h.tracked("T2"))
}

func TestIgnoresOtherChannels(t *testing.T) {
	h := newHarness(t)
	body := "post"
	intents, err := h.ThreadCreated(context.Background(), ThreadInfo{ThreadID: "T1", ParentID: "general", OwnerID: "U1", OpeningBody: &body})
	require.Nil(t, err)
	assert.Empty(t, intents)
	assert.False(t, h.tracked("T1"))
}

// Claims the owner has no thread on the first lookup, as if a competing
// thread was inserted right after.
type racyStore struct {
	*memStore
	lookups int
}

func (s *racyStore) FindThreadByOwner(ctx context.Context, ownerID string) (*models.TrackedThread, error) {
	s.lookups++
	if s.lookups == 1 {
		return nil, db.NotFound
	}
	return s.memStore.FindThreadByOwner(ctx, ownerID)
}

func TestLostOwnerRace(t *testing.T) {
	store := &racyStore{memStore: newMemStore()}
	platform := newFakePlatform()
	require.Nil(t, store.InsertThread(context.Background(), models.TrackedThread{ThreadID: "T1", OwnerID: "U1", LastBumped: epoch}))
	platform.create("T1")
	platform.create("T2")

	engine := NewEngine(testConfig(), store, platform).WithClock(func() time.Time { return epoch })
	body := "racing"
	intents, err := engine.ThreadCreated(context.Background(), ThreadInfo{ThreadID: "T2", ParentID: forumID, OwnerID: "U1", OpeningBody: &body})
	require.Nil(t, err)

	assertClosed(t, intents, "T2")
	messages := intentsOf[SendMessage](intents)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Content, "<#T1>")
	_, err = store.FindThread(context.Background(), "T2")
	assert.True(t, errors.Is(err, db.NotFound))
}

func TestLostOwnerRaceLeavesDuplicateAlone(t *testing.T) {
	ctx := context.Background()
	store := &racyStore{memStore: newMemStore()}
	platform := newFakePlatform()
	fingerprint := Fingerprint("racing")
	require.Nil(t, store.InsertThread(ctx, models.TrackedThread{ThreadID: "T0", OwnerID: "U0", LastBumped: epoch, ContentFingerprint: &fingerprint}))
	require.Nil(t, store.InsertThread(ctx, models.TrackedThread{ThreadID: "T1", OwnerID: "U1", LastBumped: epoch}))
	platform.create("T0")
	platform.create("T1")
	platform.create("T2")

	engine := NewEngine(testConfig(), store, platform).WithClock(func() time.Time { return epoch })
	body := "racing"
	intents, err := engine.ThreadCreated(ctx, ThreadInfo{ThreadID: "T2", ParentID: forumID, OwnerID: "U1", OpeningBody: &body})
	require.Nil(t, err)

	assertClosed(t, intents, "T2")
	assert.NotContains(t, intents, LockThread{ThreadID: "T0"})
	assert.NotContains(t, intents, ArchiveThread{ThreadID: "T0"})
	for _, msg := range intentsOf[SendMessage](intents) {
		assert.Equal(t, "T2", msg.ChannelID)
	}

	kept, err := store.FindThread(ctx, "T0")
	require.Nil(t, err)
	assert.Equal(t, "U0", kept.OwnerID)
}

func TestBumpCooldown(t *testing.T) {
	h := newHarness(t)
	h.create(t, "T1", "U1", "post")
	ctx := context.Background()

	res, err := h.Bump(ctx, "T1", "A")
	require.Nil(t, err)
	assert.Equal(t, epoch.Add(6*time.Hour), res.NextEligible)

	h.clock.Set(5 * time.Hour)
	_, err = h.Bump(ctx, "T1", "A")
	var cooldown *CooldownError
	require.True(t, errors.As(err, &cooldown))
	assert.Equal(t, epoch.Add(6*time.Hour), cooldown.RetryAt)
	assert.Equal(t, epoch, *h.store.actor("T1", "A").LastBumped)

	h.clock.Set(6 * time.Hour)
	_, err = h.Bump(ctx, "T1", "A")
	require.Nil(t, err)
	assert.Equal(t, epoch.Add(6*time.Hour), *h.store.actor("T1", "A").LastBumped)

	thread, err := h.store.FindThread(ctx, "T1")
	require.Nil(t, err)
	assert.Equal(t, epoch.Add(6*time.Hour), thread.LastBumped)
}

func TestCooldownIsPerActor(t *testing.T) {
	h := newHarness(t)
	h.create(t, "T1", "U1", "post")
	ctx := context.Background()

	_, err := h.Bump(ctx, "T1", "A")
	require.Nil(t, err)
	_, err = h.Bump(ctx, "T1", "B")
	assert.Nil(t, err)
}

func TestBumpUntracked(t *testing.T) {
	h := newHarness(t)
	_, err := h.Bump(context.Background(), "nope", "A")
	assert.True(t, errors.Is(err, ErrNotTracked))
}

func TestBanOverridesCooldown(t *testing.T) {
	h := newHarness(t)
	h.create(t, "T1", "U1", "post")
	ctx := context.Background()

	longAgo := epoch.Add(-48 * time.Hour)
	banEnd := epoch.Add(time.Hour)
	_, err := h.store.UpdateActor(ctx, "T1", "A", func(s *models.ActorBumpState) error {
		s.LastBumped = &longAgo
		s.BanExpires = &banEnd
		return nil
	})
	require.Nil(t, err)

	_, err = h.Bump(ctx, "T1", "A")
	var banned *BannedError
	require.True(t, errors.As(err, &banned))
	assert.Equal(t, banEnd, banned.Until)

	// Expires on its own.
	h.clock.Set(time.Hour)
	_, err = h.Bump(ctx, "T1", "A")
	assert.Nil(t, err)
	assert.Equal(t, banEnd, *h.store.actor("T1", "A").BanExpires)
}

func TestStrikeEscalation(t *testing.T) {
	h := newHarness(t)
	h.create(t, "T1", "U1", "post")
	ctx := context.Background()

	for i, id := range []string{"m1", "m2"} {
		h.clock.Set(time.Duration(i) * time.Minute)
		intents := h.chat(t, "T1", id, "B", "anyone still recruiting?")
		assert.Contains(t, intents, DeleteMessage{ChannelID: "T1", MessageID: id})

		notices := intentsOf[DirectNotify](intents)
		require.Len(t, notices, 1)
		assert.Equal(t, "B", notices[0].UserID)
		assert.Equal(t, "T1", notices[0].FallbackChannelID)
		assert.Contains(t, notices[0].Content, "Warning")

		state := h.store.actor("T1", "B")
		assert.Equal(t, i+1, state.StrikeCount)
		assert.Nil(t, state.BanExpires)
	}

	h.clock.Set(2 * time.Minute)
	t2 := epoch.Add(2 * time.Minute)
	intents := h.chat(t, "T1", "m3", "B", "hello?")
	notices := intentsOf[DirectNotify](intents)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Content, "Ban Applied")
	assert.Len(t, intentsOf[AuditLog](intents), 1)

	state := h.store.actor("T1", "B")
	assert.Equal(t, 0, state.StrikeCount)
	require.NotNil(t, state.BanExpires)
	assert.Equal(t, t2.Add(24*time.Hour), *state.BanExpires)

	displays := intentsOf[EditDisplay](intents)
	require.Len(t, displays, 1)
	assert.Contains(t, displays[0].Info.Description(), "<@B>: BANNED until")

	h.clock.Set(2*time.Minute + time.Hour)
	_, err := h.Bump(ctx, "T1", "B")
	var banned *BannedError
	assert.True(t, errors.As(err, &banned))

	h.clock.Set(2*time.Minute + 25*time.Hour)
	_, err = h.Bump(ctx, "T1", "B")
	assert.Nil(t, err)
}

func TestCommandAttemptIsNotAStrike(t *testing.T) {
	h := newHarness(t)
	h.create(t, "T1", "U1", "post")

	for _, content := range []string{"/bump", "!bump", "  /bump", "\n!bump"} {
		intents := h.chat(t, "T1", "m-"+content, "B", content)
		assert.Contains(t, intents, DeleteMessage{ChannelID: "T1", MessageID: "m-" + content})
		notices := intentsOf[TransientNotice](intents)
		require.Len(t, notices, 1)
		assert.Equal(t, 5*time.Second, notices[0].TTL)
		assert.Contains(t, notices[0].Content, "<@B>")
		assert.Contains(t, notices[0].Content, Timestamp(epoch.Add(6*time.Hour), 'R'))
		assert.Empty(t, intentsOf[DirectNotify](intents))
	}
	assert.Equal(t, 0, h.store.actor("T1", "B").StrikeCount)
}

func TestIgnoredMessages(t *testing.T) {
	h := newHarness(t)
	h.create(t, "T1", "U1", "post")

	// The opening post shares the thread's ID.
	assert.Empty(t, h.chat(t, "T1", "T1", "U1", "post"))

	intents, err := h.MessageCreated(context.Background(), MessageInfo{MessageID: "m1", ThreadID: "T1", AuthorID: "bot", AuthorIsBot: true, Content: "hi"})
	require.Nil(t, err)
	assert.Empty(t, intents)

	assert.Empty(t, h.chat(t, "elsewhere", "m2", "B", "hi"))
	assert.Equal(t, 0, h.store.actor("T1", "B").StrikeCount)
}

func TestConcurrentBumpsSerialize(t *testing.T) {
	h := newHarness(t)
	h.create(t, "T1", "U1", "post")

	var wg sync.WaitGroup
	var successes int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Bump(context.Background(), "T1", "A"); err == nil {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes)
}

func TestConcurrentStrikesAreCounted(t *testing.T) {
	h := newHarness(t)
	h.create(t, "T1", "U1", "post")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.MessageCreated(context.Background(), MessageInfo{MessageID: string(rune('a' + i)), ThreadID: "T1", AuthorID: "B", Content: "hi"})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 2, h.store.actor("T1", "B").StrikeCount)
}
