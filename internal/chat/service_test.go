package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaRa-D-Boy/devCom-sub000/internal/models"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/realtime"
	"github.com/RaRa-D-Boy/devCom-sub000/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Memory, *realtime.Bus) {
	t.Helper()
	st := store.NewMemory()
	bus := realtime.NewBus()
	return NewService(st, bus, nil, nil), st, bus
}

func TestResolveOrCreateConversationCanonicalizesPair(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.ResolveOrCreateConversation(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", first.ParticipantLow)
	assert.Equal(t, "u2", first.ParticipantHigh)
	assert.Equal(t, models.KindOneOnOne, first.Kind)

	second, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveOrCreateConversationRejectsInvalidPairs(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ResolveOrCreateConversation(ctx, "u1", "u1")
	assert.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = svc.ResolveOrCreateConversation(ctx, "", "u1")
	assert.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = svc.ResolveOrCreateConversation(ctx, "u1", "")
	assert.ErrorIs(t, err, ErrInvalidParticipants)
}

func TestResolveOrCreateConversationConcurrent(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := svc.ResolveOrCreateConversation(ctx, a, b)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, ids[0], ids[i])
	}

	conv, err := st.GetConversationByPair(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, ids[0], conv.ID)
}

// racingStore simulates the peer winning the create race: the first lookup
// misses, the insert conflicts, and the re-query finds the peer's row.
type racingStore struct {
	store.Store
	mu      sync.Mutex
	lookups int
	peerRow *models.Conversation
}

func (r *racingStore) GetConversationByPair(ctx context.Context, low, high string) (*models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.lookups == 1 {
		return nil, store.ErrNotFound
	}
	return r.peerRow, nil
}

func (r *racingStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	return store.ErrConversationExists
}

func TestResolveOrCreateConversationAdoptsPeerRowOnConflict(t *testing.T) {
	peerRow := &models.Conversation{
		ID:              "conv-peer",
		Kind:            models.KindOneOnOne,
		ParticipantLow:  "alice",
		ParticipantHigh: "bob",
	}
	svc := NewService(&racingStore{Store: store.NewMemory(), peerRow: peerRow}, realtime.NewBus(), nil, nil)

	conv, err := svc.ResolveOrCreateConversation(context.Background(), "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, "conv-peer", conv.ID)
}

func TestAppendMessageValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, conv.ID, "intruder", "hi", nil, "")
	assert.ErrorIs(t, err, ErrNotAParticipant)

	_, err = svc.AppendMessage(ctx, "no-such-conversation", "u1", "hi", nil, "")
	assert.ErrorIs(t, err, ErrNotAParticipant)

	_, err = svc.AppendMessage(ctx, conv.ID, "u1", "", nil, "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	// Attachments alone satisfy the content rule.
	att := []models.Attachment{{URL: "https://blob/x.png", Kind: "image", Size: 1024, Name: "x.png"}}
	msg, err := svc.AppendMessage(ctx, conv.ID, "u1", "", att, "")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Len(t, msg.Attachments, 1)
}

func TestAppendMessageBumpsConversationActivity(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	msg, err := svc.AppendMessage(ctx, conv.ID, "u1", "hello", nil, "")
	require.NoError(t, err)

	updated, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, updated.UpdatedAt.Before(msg.CreatedAt))
}

func TestAppendMessageResolvesReplyPreview(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	original, err := svc.AppendMessage(ctx, conv.ID, "u1", "original text", nil, "")
	require.NoError(t, err)

	reply, err := svc.AppendMessage(ctx, conv.ID, "u2", "replying", nil, original.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, original.ID, reply.ReplyToID)
	assert.Equal(t, "u1", reply.ReplyTo.AuthorID)
	assert.Equal(t, "original text", reply.ReplyTo.Content)
}

func TestAppendMessageDropsUnresolvableReply(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	convX, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	convY, err := svc.ResolveOrCreateConversation(ctx, "u1", "u3")
	require.NoError(t, err)

	foreign, err := svc.AppendMessage(ctx, convY.ID, "u3", "other conversation", nil, "")
	require.NoError(t, err)

	// Cross-conversation reply succeeds but carries no reply link.
	msg, err := svc.AppendMessage(ctx, convX.ID, "u1", "hi", nil, foreign.ID)
	require.NoError(t, err)
	assert.Empty(t, msg.ReplyToID)
	assert.Nil(t, msg.ReplyTo)

	// Dangling reply id behaves the same.
	msg, err = svc.AppendMessage(ctx, convX.ID, "u1", "hi again", nil, "missing-id")
	require.NoError(t, err)
	assert.Empty(t, msg.ReplyToID)
	assert.Nil(t, msg.ReplyTo)
}

// groupRoster is a fixed-membership GroupDirectory.
type groupRoster map[string][]string

func (g groupRoster) IsMember(ctx context.Context, groupID, participantID string) (bool, error) {
	for _, member := range g[groupID] {
		if member == participantID {
			return true, nil
		}
	}
	return false, nil
}

func newGroupConversation(t *testing.T, st *store.Memory, groupID string) *models.Conversation {
	t.Helper()
	now := time.Now().UTC()
	conv := &models.Conversation{Kind: models.KindGroup, GroupID: groupID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateConversation(context.Background(), conv))
	return conv
}

func TestGroupConversationMembership(t *testing.T) {
	st := store.NewMemory()
	roster := groupRoster{"g1": {"u1", "u2", "u3"}}
	svc := NewService(st, realtime.NewBus(), nil, roster)
	ctx := context.Background()

	conv := newGroupConversation(t, st, "g1")

	msg, err := svc.AppendMessage(ctx, conv.ID, "u3", "hello group", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "u3", msg.AuthorID)

	_, err = svc.AppendMessage(ctx, conv.ID, "outsider", "hi", nil, "")
	assert.ErrorIs(t, err, ErrNotAParticipant)

	assert.NoError(t, svc.Authorize(ctx, conv.ID, "u1"))
	assert.ErrorIs(t, svc.Authorize(ctx, conv.ID, "outsider"), ErrNotAParticipant)
}

func TestGroupConversationDeniedWithoutDirectory(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	conv := newGroupConversation(t, st, "g1")

	// No directory wired: group writes are denied rather than allowed blind.
	_, err := svc.AppendMessage(ctx, conv.ID, "u1", "hi", nil, "")
	assert.ErrorIs(t, err, ErrNotAParticipant)
	assert.ErrorIs(t, svc.Authorize(ctx, conv.ID, "u1"), ErrNotAParticipant)
}

// failingRoster simulates a directory outage.
type failingRoster struct{}

func (failingRoster) IsMember(ctx context.Context, groupID, participantID string) (bool, error) {
	return false, errDown
}

func TestGroupDirectoryOutageSurfacesAsStoreUnavailable(t *testing.T) {
	st := store.NewMemory()
	svc := NewService(st, realtime.NewBus(), nil, failingRoster{})
	ctx := context.Background()

	conv := newGroupConversation(t, st, "g1")

	_, err := svc.AppendMessage(ctx, conv.ID, "u1", "hi", nil, "")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, errDown)
}

func TestEditMessageRejectsNonAuthor(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	msg, err := svc.AppendMessage(ctx, conv.ID, "u1", "keep me", nil, "")
	require.NoError(t, err)

	_, err = svc.EditMessage(ctx, msg.ID, "u2", "x")
	assert.ErrorIs(t, err, ErrNotAuthor)

	unchanged, err := st.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep me", unchanged.Content)
	assert.False(t, unchanged.IsEdited)
}

func TestEditMessageSetsEditState(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	msg, err := svc.AppendMessage(ctx, conv.ID, "u1", "before", nil, "")
	require.NoError(t, err)

	edited, err := svc.EditMessage(ctx, msg.ID, "u1", "after")
	require.NoError(t, err)
	assert.Equal(t, "after", edited.Content)
	assert.True(t, edited.IsEdited)
	require.NotNil(t, edited.EditedAt)
}

func TestEditMessageRejectsDeleted(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	msg, err := svc.AppendMessage(ctx, conv.ID, "u1", "doomed", nil, "")
	require.NoError(t, err)

	require.NoError(t, svc.SoftDeleteMessage(ctx, msg.ID, "u1"))

	_, err = svc.EditMessage(ctx, msg.ID, "u1", "too late")
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
}

func TestSoftDeleteIdempotent(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	msg, err := svc.AppendMessage(ctx, conv.ID, "u1", "bye", nil, "")
	require.NoError(t, err)

	require.NoError(t, svc.SoftDeleteMessage(ctx, msg.ID, "u1"))
	require.NoError(t, svc.SoftDeleteMessage(ctx, msg.ID, "u1"))

	stored, err := st.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
	assert.Empty(t, stored.Content)
	assert.Equal(t, models.Tombstone, stored.DisplayContent())

	// A third party is rejected regardless of the deleted state.
	err = svc.SoftDeleteMessage(ctx, msg.ID, "u2")
	assert.ErrorIs(t, err, ErrNotAuthor)
}

// recordingCleaner collects removed attachments for assertions.
type recordingCleaner struct {
	mu      sync.Mutex
	removed []models.Attachment
}

func (c *recordingCleaner) Remove(ctx context.Context, att models.Attachment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, att)
	return nil
}

func (c *recordingCleaner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.removed)
}

func TestSoftDeleteClearsAttachmentsAndFiresCleaner(t *testing.T) {
	st := store.NewMemory()
	cleaner := &recordingCleaner{}
	svc := NewService(st, realtime.NewBus(), cleaner, nil)
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)
	att := []models.Attachment{{URL: "https://blob/a.png", Kind: "image", Size: 10, Name: "a.png"}}
	msg, err := svc.AppendMessage(ctx, conv.ID, "u1", "", att, "")
	require.NoError(t, err)

	require.NoError(t, svc.SoftDeleteMessage(ctx, msg.ID, "u1"))

	stored, err := st.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Attachments)

	assert.Eventually(t, func() bool { return cleaner.count() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestFetchHistoryPagination(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 10; i++ {
		msg, err := svc.AppendMessage(ctx, conv.ID, "u1", "msg", nil, "")
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	// Latest page first, oldest to newest within the page.
	page, err := svc.FetchHistory(ctx, conv.ID, 5, "")
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, ids[5:], messageIDs(page))

	// Backward pagination: strictly earlier than the page's first message.
	earlier, err := svc.FetchHistory(ctx, conv.ID, 5, page[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ids[:5], messageIDs(earlier))

	// Re-fetching with no writes in between yields the identical sequence.
	again, err := svc.FetchHistory(ctx, conv.ID, 5, page[0].ID)
	require.NoError(t, err)
	assert.Equal(t, messageIDs(earlier), messageIDs(again))

	// A new insert never disturbs an already-fetched page.
	_, err = svc.AppendMessage(ctx, conv.ID, "u2", "new", nil, "")
	require.NoError(t, err)
	stable, err := svc.FetchHistory(ctx, conv.ID, 5, page[0].ID)
	require.NoError(t, err)
	assert.Equal(t, messageIDs(earlier), messageIDs(stable))
}

func TestMutationsPublishEventsInCommitOrder(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	stream, err := bus.Subscribe(ctx, realtime.ConversationKey(conv.ID))
	require.NoError(t, err)
	defer stream.Close()

	first, err := svc.AppendMessage(ctx, conv.ID, "u1", "one", nil, "")
	require.NoError(t, err)
	_, err = svc.EditMessage(ctx, first.ID, "u1", "one!")
	require.NoError(t, err)
	require.NoError(t, svc.SoftDeleteMessage(ctx, first.ID, "u1"))

	types := []realtime.EventType{realtime.EventInsert, realtime.EventUpdate, realtime.EventDelete}
	for _, want := range types {
		select {
		case ev := <-stream.Events():
			assert.Equal(t, want, ev.Type)
			assert.Equal(t, first.ID, ev.Message.ID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestAuthorize(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	assert.NoError(t, svc.Authorize(ctx, conv.ID, "u1"))
	assert.NoError(t, svc.Authorize(ctx, conv.ID, "u2"))
	assert.ErrorIs(t, svc.Authorize(ctx, conv.ID, "u3"), ErrNotAParticipant)
	assert.ErrorIs(t, svc.Authorize(ctx, "missing", "u1"), ErrNotAParticipant)
}

// failingStore forces infrastructure failures to exercise the transport
// error taxonomy.
type failingStore struct {
	store.Store
}

var errDown = errors.New("connection refused")

func (f *failingStore) GetConversationByPair(ctx context.Context, low, high string) (*models.Conversation, error) {
	return nil, errDown
}

func TestStoreFailureSurfacesAsStoreUnavailable(t *testing.T) {
	svc := NewService(&failingStore{Store: store.NewMemory()}, realtime.NewBus(), nil, nil)

	_, err := svc.ResolveOrCreateConversation(context.Background(), "u1", "u2")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, errDown)
}

// replyLookupFailingStore fails only the message lookup used for reply
// resolution.
type replyLookupFailingStore struct {
	store.Store
}

func (f *replyLookupFailingStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return nil, errDown
}

func TestAppendMessageSurfacesReplyLookupOutage(t *testing.T) {
	svc := NewService(&replyLookupFailingStore{Store: store.NewMemory()}, realtime.NewBus(), nil, nil)
	ctx := context.Background()

	conv, err := svc.ResolveOrCreateConversation(ctx, "u1", "u2")
	require.NoError(t, err)

	// A store outage during reply resolution must not be mistaken for a
	// dangling reference and swallowed.
	_, err = svc.AppendMessage(ctx, conv.ID, "u1", "hi", nil, "some-id")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, errDown)
}

func messageIDs(msgs []models.Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}
