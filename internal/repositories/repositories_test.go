package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/db"
	"chat-core/internal/db/dbtest"
	"chat-core/internal/models"
)

var (
	staff3    = models.Participant{ID: 3, Type: models.AccountStaff}
	customer5 = models.Participant{ID: 5, Type: models.AccountCustomer}
	staff7    = models.Participant{ID: 7, Type: models.AccountStaff}
)

func ts(sec int) time.Time {
	return time.Date(2024, 3, 1, 10, 0, sec, 0, time.UTC)
}

func strPtr(s string) *string { return &s }

func sendRaw(t *testing.T, h db.Handle, conv models.Conversation, from, to models.Participant, body string, at time.Time) models.Message {
	t.Helper()
	ctx := context.Background()
	msg, err := NewMessageRepo().Create(ctx, h, models.Message{
		ConversationID: conv.ID,
		SenderID:       from.ID,
		SenderType:     from.Type,
		ReceiverID:     to.ID,
		ReceiverType:   to.Type,
		Body:           strPtr(body),
		MessageType:    models.MessageText,
		CreatedAt:      at,
		UpdatedAt:      at,
	})
	require.NoError(t, err)
	slot, ok := conv.SlotOf(to)
	require.True(t, ok)
	require.NoError(t, NewConversationRepo().RecordMessage(ctx, h, conv.ID, slot, msg.ID, at))
	return msg
}

func TestCreateOrGetIsCanonical(t *testing.T) {
	h := dbtest.New(t)
	repo := NewConversationRepo()
	ctx := context.Background()

	first, created, err := repo.CreateOrGet(ctx, h, customer5, staff3, ts(0))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, staff3, first.SlotA())
	assert.Equal(t, customer5, first.SlotB())
	assert.Zero(t, first.UnreadCountSlotA)
	assert.Nil(t, first.LastMessageID)

	second, created, err := repo.CreateOrGet(ctx, h, staff3, customer5, ts(1))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = repo.CreateOrGet(ctx, h, staff3, staff3, ts(2))
	assert.ErrorIs(t, err, ErrSelfConversation)
}

func TestCreateOrGetTieBreaksOnType(t *testing.T) {
	h := dbtest.New(t)
	staff5 := models.Participant{ID: 5, Type: models.AccountStaff}

	conv, _, err := NewConversationRepo().CreateOrGet(context.Background(), h, staff5, customer5, ts(0))
	require.NoError(t, err)
	assert.Equal(t, customer5, conv.SlotA())
	assert.Equal(t, staff5, conv.SlotB())
}

func TestCreateOrGetConcurrentFirstContact(t *testing.T) {
	h := dbtest.New(t)
	repo := NewConversationRepo()

	const workers = 8
	ids := make([]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p1, p2 := staff3, staff7
			if i%2 == 1 {
				p1, p2 = p2, p1
			}
			conv, _, err := repo.CreateOrGet(context.Background(), h, p1, p2, ts(i))
			ids[i], errs[i] = conv.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	var n int
	require.NoError(t, h.Get(&n, `SELECT COUNT(*) FROM chat_conversations`))
	assert.Equal(t, 1, n)
}

func TestRecordMessageAndRecount(t *testing.T) {
	h := dbtest.New(t)
	convs := NewConversationRepo()
	msgs := NewMessageRepo()
	ctx := context.Background()

	conv, _, err := convs.CreateOrGet(ctx, h, customer5, staff3, ts(0))
	require.NoError(t, err)
	m1 := sendRaw(t, h, conv, customer5, staff3, "one", ts(1))
	sendRaw(t, h, conv, customer5, staff3, "two", ts(2))
	last := sendRaw(t, h, conv, staff3, customer5, "three", ts(3))

	conv, err = convs.Get(ctx, h, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.UnreadCountSlotA)
	assert.Equal(t, 1, conv.UnreadCountSlotB)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, last.ID, *conv.LastMessageID)

	_, err = msgs.MarkRead(ctx, h, []int64{m1.ID}, staff3, ts(4))
	require.NoError(t, err)
	counts, err := convs.CountUnread(ctx, h, conv)
	require.NoError(t, err)
	assert.Equal(t, UnreadCounts{SlotA: 1, SlotB: 1}, counts)

	require.NoError(t, msgs.Delete(ctx, h, last.ID))
	require.NoError(t, convs.RefreshLastMessage(ctx, h, conv.ID, ts(5)))
	conv, err = convs.Get(ctx, h, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageAt)
	assert.True(t, ts(2).Equal(*conv.LastMessageAt))
}

func TestMarkReadSkipsForeignAndAlreadyRead(t *testing.T) {
	h := dbtest.New(t)
	ctx := context.Background()
	conv, _, err := NewConversationRepo().CreateOrGet(ctx, h, staff3, staff7, ts(0))
	require.NoError(t, err)
	toSeven := sendRaw(t, h, conv, staff3, staff7, "hi", ts(1))
	toThree := sendRaw(t, h, conv, staff7, staff3, "hey", ts(2))

	msgs := NewMessageRepo()
	changed, err := msgs.MarkRead(ctx, h, []int64{toSeven.ID, toThree.ID}, staff7, ts(3))
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, toSeven.ID, changed[0].ID)

	changed, err = msgs.MarkRead(ctx, h, []int64{toSeven.ID}, staff7, ts(4))
	require.NoError(t, err)
	assert.Empty(t, changed)

	got, err := msgs.Get(ctx, h, toSeven.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	require.NotNil(t, got.ReadAt)
	assert.True(t, ts(3).Equal(*got.ReadAt))
}

func TestListHidesReceiverDeletedAndSearches(t *testing.T) {
	h := dbtest.New(t)
	ctx := context.Background()
	conv, _, err := NewConversationRepo().CreateOrGet(ctx, h, staff3, staff7, ts(0))
	require.NoError(t, err)
	sendRaw(t, h, conv, staff3, staff7, "Hello world", ts(1))
	hidden := sendRaw(t, h, conv, staff3, staff7, "100% sure", ts(2))
	sendRaw(t, h, conv, staff7, staff3, "hello again", ts(3))

	msgs := NewMessageRepo()
	require.NoError(t, msgs.SoftDeleteForReceiver(ctx, h, hidden.ID, ts(4)))

	forSeven, err := msgs.List(ctx, h, MessageFilter{ConversationID: conv.ID, Viewer: staff7, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, forSeven, 2)

	forThree, err := msgs.List(ctx, h, MessageFilter{ConversationID: conv.ID, Viewer: staff3, Limit: 10})
	require.NoError(t, err)
	require.Len(t, forThree, 3)
	assert.Equal(t, "hello again", *forThree[0].Body)

	found, err := msgs.List(ctx, h, MessageFilter{ConversationID: conv.ID, Viewer: staff3, Query: "HELLO", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = msgs.List(ctx, h, MessageFilter{ConversationID: conv.ID, Viewer: staff3, Query: "%", Limit: 10})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, hidden.ID, found[0].ID)

	page, err := msgs.List(ctx, h, MessageFilter{ConversationID: conv.ID, Viewer: staff3, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, hidden.ID, page[0].ID)
}

func TestUpdateBodyKeepsFirstOriginal(t *testing.T) {
	h := dbtest.New(t)
	ctx := context.Background()
	conv, _, err := NewConversationRepo().CreateOrGet(ctx, h, staff3, staff7, ts(0))
	require.NoError(t, err)
	msg := sendRaw(t, h, conv, staff3, staff7, "draft", ts(1))

	msgs := NewMessageRepo()
	first, err := msgs.UpdateBody(ctx, h, msg.ID, "second", ts(2))
	require.NoError(t, err)
	assert.True(t, first.IsEdited)
	assert.Equal(t, "draft", *first.OriginalBody)
	assert.Equal(t, "second", *first.Body)

	again, err := msgs.UpdateBody(ctx, h, msg.ID, "third", ts(3))
	require.NoError(t, err)
	assert.Equal(t, "draft", *again.OriginalBody)
	assert.Equal(t, "third", *again.Body)
	assert.True(t, ts(2).Equal(*again.EditedAt))
	assert.True(t, ts(3).Equal(again.UpdatedAt))

	_, err = msgs.UpdateBody(ctx, h, 9999, "x", ts(4))
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestListForOrdersByActivity(t *testing.T) {
	h := dbtest.New(t)
	convs := NewConversationRepo()
	ctx := context.Background()

	empty, _, err := convs.CreateOrGet(ctx, h, staff3, models.Participant{ID: 9, Type: models.AccountStaff}, ts(0))
	require.NoError(t, err)
	older, _, err := convs.CreateOrGet(ctx, h, staff3, staff7, ts(0))
	require.NoError(t, err)
	newer, _, err := convs.CreateOrGet(ctx, h, staff3, customer5, ts(0))
	require.NoError(t, err)
	sendRaw(t, h, older, staff7, staff3, "old", ts(1))
	sendRaw(t, h, newer, customer5, staff3, "new", ts(2))

	rows, err := convs.ListFor(ctx, h, staff3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, newer.ID, rows[0].ID)
	assert.Equal(t, "new", *rows[0].LastMessageBody)
	assert.Equal(t, older.ID, rows[1].ID)
	assert.Equal(t, empty.ID, rows[2].ID)
	assert.Nil(t, rows[2].LastMessageBody)

	unread, err := convs.UnreadCountsFor(ctx, h, staff3)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{empty.ID: 0, older.ID: 1, newer.ID: 1}, unread)

	n, err := convs.CountFor(ctx, h, staff7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFlagsAndDelete(t *testing.T) {
	h := dbtest.New(t)
	convs := NewConversationRepo()
	ctx := context.Background()
	conv, _, err := convs.CreateOrGet(ctx, h, staff3, staff7, ts(0))
	require.NoError(t, err)
	sendRaw(t, h, conv, staff3, staff7, "bye", ts(1))

	require.NoError(t, convs.SetArchived(ctx, h, conv.ID, models.SlotB, true, ts(2)))
	require.NoError(t, convs.SetMuted(ctx, h, conv.ID, models.SlotA, true, ts(2)))
	got, err := convs.Get(ctx, h, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.ArchivedBySlotB)
	assert.False(t, got.ArchivedBySlotA)
	assert.True(t, got.MutedBySlotA)

	assert.ErrorIs(t, convs.SetMuted(ctx, h, 404, models.SlotA, true, ts(3)), ErrConversationNotFound)

	require.NoError(t, convs.Delete(ctx, h, conv.ID))
	_, err = convs.Get(ctx, h, conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	var n int
	require.NoError(t, h.Get(&n, `SELECT COUNT(*) FROM chat_messages`))
	assert.Zero(t, n)
}

func TestPresenceAndSettings(t *testing.T) {
	h := dbtest.New(t)
	repo := NewPresenceRepo()
	ctx := context.Background()

	_, err := repo.Upsert(ctx, h, staff3, models.PresenceOnline, ts(0))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, h, staff7, models.PresenceBusy, ts(50))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, h, staff3, models.PresenceAway, ts(10))
	require.NoError(t, err)

	list, err := repo.List(ctx, h, []int64{3, 7, 11}, models.AccountStaff)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.PresenceAway, list[0].Status)

	stale, err := repo.MarkStaleOffline(ctx, h, ts(30))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, staff3, stale[0].Participant())

	_, err = repo.GetSettings(ctx, h, customer5)
	assert.ErrorIs(t, err, ErrSettingsNotFound)

	s := models.DefaultSettings(customer5)
	s.CreatedAt, s.UpdatedAt = ts(0), ts(0)
	require.NoError(t, repo.InsertSettings(ctx, h, s))
	require.NoError(t, repo.InsertSettings(ctx, h, s))

	s.Theme = "dark"
	s.ShowReadReceipts = false
	s.UpdatedAt = ts(5)
	require.NoError(t, repo.SaveSettings(ctx, h, s))

	got, err := repo.GetSettings(ctx, h, customer5)
	require.NoError(t, err)
	assert.Equal(t, "dark", got.Theme)
	assert.False(t, got.ShowReadReceipts)
	assert.True(t, got.EmailNotifications)
}
