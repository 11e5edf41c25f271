package services

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-core/internal/apperr"
	"chat-core/internal/db"
	"chat-core/internal/db/dbtest"
	"chat-core/internal/directory"
	"chat-core/internal/media"
	"chat-core/internal/models"
	"chat-core/internal/policy"
	"chat-core/internal/repositories"
)

var (
	admin1    = models.Actor{Participant: models.Participant{ID: 1, Type: models.AccountStaff}, Role: "administratif"}
	staff3    = models.Actor{Participant: models.Participant{ID: 3, Type: models.AccountStaff}, Role: "logisticien"}
	staff7    = models.Actor{Participant: models.Participant{ID: 7, Type: models.AccountStaff}, Role: "logisticien"}
	customer5 = models.Actor{Participant: models.Participant{ID: 5, Type: models.AccountCustomer}}
	customer6 = models.Actor{Participant: models.Participant{ID: 6, Type: models.AccountCustomer}}
)

type emitted struct {
	Type       string
	Recipients []models.Participant
	Payload    any
}

type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(_ context.Context, _ string, eventType string, recipients []models.Participant, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{Type: eventType, Recipients: recipients, Payload: payload})
}

func (r *recorder) ofType(eventType string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now ticks one second per call so that every write gets a distinct time.
func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	h             db.Handle
	conversations *ConversationService
	messages      *MessageService
	presence      *PresenceService
	contacts      *ContactsService
	events        *recorder
	clock         *clock
	blobRoot      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := dbtest.New(t)
	dbtest.Staff(t, h, 1, "alice", "Administratif")
	dbtest.Staff(t, h, 3, "bob", "logisticien")
	dbtest.Staff(t, h, 7, "carl", "logisticien")
	dbtest.Customer(t, h, 5, "Acme", "bob")
	dbtest.Customer(t, h, 6, "Globex", "")

	blobRoot := t.TempDir()
	store, err := media.NewLocalStore(blobRoot, "/files")
	require.NoError(t, err)

	dir := directory.NewSQLDirectory(time.Minute)
	rec := &recorder{}
	clk := &clock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	deps := Deps{
		Conversations: repositories.NewConversationRepo(),
		Messages:      repositories.NewMessageRepo(),
		Presence:      repositories.NewPresenceRepo(),
		Directory:     dir,
		Policy:        policy.New([]string{"administratif", "commercial"}, dir, time.Second),
		Media:         media.NewIngestor(store, time.Second, zap.NewNop()),
		Events:        rec,
		Log:           zap.NewNop(),
	}

	f := &fixture{
		h:             h,
		conversations: NewConversationService(deps),
		messages:      NewMessageService(deps),
		presence:      NewPresenceService(deps),
		contacts:      NewContactsService(deps),
		events:        rec,
		clock:         clk,
		blobRoot:      blobRoot,
	}
	f.conversations.now = clk.Now
	f.messages.now = clk.Now
	f.presence.now = clk.Now
	f.contacts.now = clk.Now
	return f
}

func text(body string) *string { return &body }

func coord(v float64) *float64 { return &v }

func (f *fixture) send(t *testing.T, from models.Actor, to models.Actor, body string) models.MessageView {
	t.Helper()
	view, err := f.messages.Send(context.Background(), f.h, from, models.SendMessageRequest{
		Receiver: to.Participant,
		Body:     text(body),
		Type:     models.MessageText,
	})
	require.NoError(t, err)
	return view
}

func (f *fixture) conversation(t *testing.T, id int64) models.Conversation {
	t.Helper()
	conv, err := repositories.NewConversationRepo().Get(context.Background(), f.h, id)
	require.NoError(t, err)
	return conv
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.h.Get(&n, `SELECT COUNT(*) FROM `+table))
	return n
}

func bodies(views []models.MessageView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		if v.Body != nil {
			out[i] = *v.Body
		}
	}
	return out
}

func TestCreateOrGetIsOrderIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ab, err := f.conversations.CreateOrGet(ctx, f.h, admin1, staff3.Participant)
	require.NoError(t, err)
	ba, err := f.conversations.CreateOrGet(ctx, f.h, staff3, admin1.Participant)
	require.NoError(t, err)

	assert.Equal(t, ab.ID, ba.ID)
	assert.Equal(t, 1, f.count(t, "chat_conversations"))
	assert.Equal(t, "Prenom Nombob", ab.Other.Name)
	assert.Equal(t, "Prenom Nomalice", ba.Other.Name)
	assert.Len(t, f.events.ofType(models.EventConversationUpdated), 1)
}

func TestCreateOrGetRejectsSelfAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.conversations.CreateOrGet(ctx, f.h, staff3, staff3.Participant)
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	_, err = f.conversations.CreateOrGet(ctx, f.h, admin1, models.Participant{ID: 99, Type: models.AccountStaff})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCustomerToAssignedRepresentative(t *testing.T) {
	f := newFixture(t)

	view := f.send(t, customer5, staff3, "Bonjour")
	conv := f.conversation(t, view.ConversationID)

	assert.Equal(t, staff3.Participant, conv.SlotA())
	assert.Equal(t, customer5.Participant, conv.SlotB())
	assert.Equal(t, 1, conv.UnreadCountSlotA)
	assert.Equal(t, 0, conv.UnreadCountSlotB)
	assert.Equal(t, view.ID, *conv.LastMessageID)
	assert.Equal(t, "Acme", view.Sender.Name)
	assert.Equal(t, "Prenom Nombob", view.Receiver.Name)

	sent := f.events.ofType(models.EventMessageSent)
	require.Len(t, sent, 1)
	assert.Equal(t, []models.Participant{staff3.Participant, customer5.Participant}, sent[0].Recipients)
}

func TestVisibilityRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := func(to models.Actor) models.SendMessageRequest {
		return models.SendMessageRequest{Receiver: to.Participant, Body: text("hi"), Type: models.MessageText}
	}

	_, err := f.messages.Send(ctx, f.h, staff3, req(customer5))
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "non-privileged staff to customer")

	_, err = f.messages.Send(ctx, f.h, customer5, req(staff7))
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "customer to unassigned staff")

	_, err = f.messages.Send(ctx, f.h, customer5, req(customer6))
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "customer to customer")

	_, err = f.messages.Send(ctx, f.h, staff3, req(staff7))
	assert.NoError(t, err, "staff to staff")

	_, err = f.messages.Send(ctx, f.h, admin1, req(customer6))
	assert.NoError(t, err, "privileged to customer")

	assert.Equal(t, 2, f.count(t, "chat_messages"))
}

func TestExistingConversationAllowsReply(t *testing.T) {
	f := newFixture(t)

	first := f.send(t, customer5, staff3, "question")
	reply := f.send(t, staff3, customer5, "answer")

	assert.Equal(t, first.ConversationID, reply.ConversationID)
	conv := f.conversation(t, first.ConversationID)
	assert.Equal(t, 1, conv.UnreadCountSlotA)
	assert.Equal(t, 1, conv.UnreadCountSlotB)
}

func TestUnreadCounterCountsEverySend(t *testing.T) {
	f := newFixture(t)

	var convID int64
	for i := 0; i < 5; i++ {
		convID = f.send(t, staff7, staff3, "ping").ConversationID
	}
	conv := f.conversation(t, convID)
	slot, _ := conv.SlotOf(staff3.Participant)
	assert.Equal(t, 5, conv.UnreadFor(slot))
	senderSlot, _ := conv.SlotOf(staff7.Participant)
	assert.Equal(t, 0, conv.UnreadFor(senderSlot))
}

func TestConcurrentSendsKeepCountersExact(t *testing.T) {
	f := newFixture(t)
	const perSide = 10

	var wg sync.WaitGroup
	errs := make(chan error, 2*perSide)
	for _, pair := range [][2]models.Actor{{staff3, staff7}, {staff7, staff3}} {
		from, to := pair[0], pair[1]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSide; i++ {
				_, err := f.messages.Send(context.Background(), f.h, from, models.SendMessageRequest{
					Receiver: to.Participant, Body: text("x"), Type: models.MessageText,
				})
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.count(t, "chat_conversations"))
	var conv models.Conversation
	require.NoError(t, f.h.Get(&conv, `SELECT * FROM chat_conversations`))
	assert.Equal(t, perSide, conv.UnreadCountSlotA)
	assert.Equal(t, perSide, conv.UnreadCountSlotB)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m1 := f.send(t, staff7, staff3, "one")
	m2 := f.send(t, staff7, staff3, "two")
	mine := f.send(t, staff3, staff7, "reply")

	marked, err := f.messages.MarkRead(ctx, f.h, []int64{m1.ID, m2.ID, mine.ID}, staff3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{m1.ID, m2.ID}, marked)

	conv := f.conversation(t, m1.ConversationID)
	slot3, _ := conv.SlotOf(staff3.Participant)
	slot7, _ := conv.SlotOf(staff7.Participant)
	assert.Equal(t, 0, conv.UnreadFor(slot3))
	assert.Equal(t, 1, conv.UnreadFor(slot7))

	again, err := f.messages.MarkRead(ctx, f.h, []int64{m1.ID, m2.ID}, staff3)
	require.NoError(t, err)
	assert.Empty(t, again)
	after := f.conversation(t, m1.ConversationID)
	assert.Equal(t, conv.UnreadCountSlotA, after.UnreadCountSlotA)
	assert.Equal(t, conv.UnreadCountSlotB, after.UnreadCountSlotB)
	assert.Equal(t, conv.UpdatedAt, after.UpdatedAt)

	receipts := f.events.ofType(models.EventMessagesRead)
	require.Len(t, receipts, 1)
	assert.Equal(t, []models.Participant{staff7.Participant}, receipts[0].Recipients)
}

func TestDeleteAsSenderAndAsReceiver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keep := f.send(t, staff7, staff3, "keep")
	hidden := f.send(t, staff7, staff3, "hidden for receiver")
	gone := f.send(t, staff7, staff3, "gone")

	require.NoError(t, f.messages.Delete(ctx, f.h, hidden.ID, staff3))
	require.NoError(t, f.messages.Delete(ctx, f.h, gone.ID, staff7))

	forSender, err := f.messages.List(ctx, f.h, keep.ConversationID, staff7, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep", "hidden for receiver"}, bodies(forSender))

	forReceiver, err := f.messages.List(ctx, f.h, keep.ConversationID, staff3, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, bodies(forReceiver))

	conv := f.conversation(t, keep.ConversationID)
	slot3, _ := conv.SlotOf(staff3.Participant)
	assert.Equal(t, 1, conv.UnreadFor(slot3))
	assert.Equal(t, hidden.ID, *conv.LastMessageID)

	err = f.messages.Delete(ctx, f.h, keep.ID, admin1)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	err = f.messages.Delete(ctx, f.h, gone.ID, staff7)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestInvalidLocationWritesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.messages.Send(context.Background(), f.h, staff3, models.SendMessageRequest{
		Receiver: staff7.Participant,
		Type:     models.MessageLocation,
		Location: &models.Location{Latitude: coord(200), Longitude: coord(2.35)},
	})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	_, err = f.messages.Send(context.Background(), f.h, staff3, models.SendMessageRequest{
		Receiver: staff7.Participant,
		Type:     models.MessageLocation,
		Location: &models.Location{Longitude: coord(10)},
	})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
	assert.Zero(t, f.count(t, "chat_messages"))
	assert.Zero(t, f.count(t, "chat_conversations"))
}

func TestTextRoundTrip(t *testing.T) {
	f := newFixture(t)

	sent := f.send(t, staff3, staff7, "Hello")
	list, err := f.messages.List(context.Background(), f.h, sent.ConversationID, staff7, 1, 20)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got := list[0]
	assert.Equal(t, "Hello", *got.Body)
	assert.Equal(t, models.MessageText, got.Type)
	assert.Nil(t, got.Location)
	assert.Nil(t, got.Audio)
	assert.Nil(t, got.Attachment)
}

func TestTextDropsStrayAttachment(t *testing.T) {
	f := newFixture(t)

	sent, err := f.messages.Send(context.Background(), f.h, staff3, models.SendMessageRequest{
		Receiver:   staff7.Participant,
		Type:       models.MessageText,
		Body:       text("hi"),
		Attachment: &models.Attachment{URL: "http://elsewhere/x.exe", Name: "x.exe", Size: 1 << 40, MIMEType: "application/x"},
	})
	require.NoError(t, err)
	assert.Nil(t, sent.Attachment)

	list, err := f.messages.List(context.Background(), f.h, sent.ConversationID, staff7, 1, 20)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Attachment)
	var stored int
	require.NoError(t, f.h.Get(&stored, `SELECT COUNT(*) FROM chat_messages WHERE file_url IS NOT NULL`))
	assert.Zero(t, stored)
}

func TestLocationRoundTrip(t *testing.T) {
	f := newFixture(t)
	accuracy := 12.5

	sent, err := f.messages.Send(context.Background(), f.h, staff3, models.SendMessageRequest{
		Receiver: staff7.Participant,
		Type:     models.MessageLocation,
		Location: &models.Location{Latitude: coord(48.85), Longitude: coord(2.35), Accuracy: &accuracy},
	})
	require.NoError(t, err)
	require.NotNil(t, sent.Location)
	assert.Equal(t, coord(48.85), sent.Location.Latitude)
	assert.Equal(t, &accuracy, sent.Location.Accuracy)
}

func TestEditTwiceKeepsFirstOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sent := f.send(t, staff3, staff7, "draft")

	first, err := f.messages.Update(ctx, f.h, sent.ID, staff3, "second")
	require.NoError(t, err)
	assert.True(t, first.IsEdited)
	assert.Equal(t, "draft", *first.OriginalBody)
	require.NotNil(t, first.EditedAt)

	second, err := f.messages.Update(ctx, f.h, sent.ID, staff3, "third")
	require.NoError(t, err)
	assert.Equal(t, "third", *second.Body)
	assert.Equal(t, "draft", *second.OriginalBody)
	assert.Equal(t, *first.EditedAt, *second.EditedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	_, err = f.messages.Update(ctx, f.h, sent.ID, staff7, "hijack")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	_, err = f.messages.Update(ctx, f.h, sent.ID, staff3, "  ")
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
}

func TestListPagesFromNewest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var convID int64
	for _, body := range []string{"m1", "m2", "m3", "m4", "m5"} {
		convID = f.send(t, staff3, staff7, body).ConversationID
	}

	page1, err := f.messages.List(ctx, f.h, convID, staff3, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m4", "m5"}, bodies(page1))

	page3, err := f.messages.List(ctx, f.h, convID, staff3, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, bodies(page3))

	far, err := f.messages.List(ctx, f.h, convID, staff3, math.MaxInt, 100)
	require.NoError(t, err)
	assert.Empty(t, far)

	_, err = f.messages.List(ctx, f.h, convID, admin1, 1, 2)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	_, err = f.messages.List(ctx, f.h, 404, staff3, 1, 2)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestPageBoundsClampsOffset(t *testing.T) {
	limit, offset := pageBounds(math.MaxInt, math.MaxInt)
	assert.Equal(t, maxPageSize, limit)
	assert.Equal(t, (maxPage-1)*maxPageSize, offset)

	limit, offset = pageBounds(-3, 0)
	assert.Equal(t, defaultPageSize, limit)
	assert.Zero(t, offset)
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, staff3, staff7, "Livraison prévue lundi")
	f.send(t, staff7, staff3, "ok")
	convID := f.send(t, staff3, staff7, "LIVRAISON confirmée").ConversationID
	f.send(t, staff3, staff7, "100% done")

	found, err := f.messages.Search(ctx, f.h, convID, staff7, "livraison", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"LIVRAISON confirmée", "Livraison prévue lundi"}, bodies(found))

	literal, err := f.messages.Search(ctx, f.h, convID, staff7, "0%", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"100% done"}, bodies(literal))

	_, err = f.messages.Search(ctx, f.h, convID, staff7, " ", 1, 10)
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
}

func TestReplyMustStayInConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := f.send(t, admin1, staff7, "elsewhere")
	_, err := f.messages.Send(ctx, f.h, staff3, models.SendMessageRequest{
		Receiver: staff7.Participant, Body: text("re"), Type: models.MessageText, ReplyTo: &other.ID,
	})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	parent := f.send(t, staff3, staff7, "parent")
	reply, err := f.messages.Send(ctx, f.h, staff7, models.SendMessageRequest{
		Receiver: staff3.Participant, Body: text("re"), Type: models.MessageText, ReplyTo: &parent.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, *reply.ReplyToMessageID)
}

func TestResetUnreadMarksEverythingRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.send(t, staff7, staff3, "a")
	f.send(t, staff7, staff3, "b")
	f.send(t, staff3, staff7, "c")

	require.NoError(t, f.conversations.ResetUnread(ctx, f.h, m.ConversationID, staff3))

	conv := f.conversation(t, m.ConversationID)
	slot3, _ := conv.SlotOf(staff3.Participant)
	slot7, _ := conv.SlotOf(staff7.Participant)
	assert.Equal(t, 0, conv.UnreadFor(slot3))
	assert.Equal(t, 1, conv.UnreadFor(slot7))

	var unread int
	require.NoError(t, f.h.Get(&unread, `SELECT COUNT(*) FROM chat_messages WHERE receiver_id = 3 AND is_read = FALSE`))
	assert.Zero(t, unread)

	err := f.conversations.ResetUnread(ctx, f.h, m.ConversationID, admin1)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
}

func TestArchiveAndMuteArePerSide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	convID := f.send(t, staff3, staff7, "hi").ConversationID
	require.NoError(t, f.conversations.Archive(ctx, f.h, convID, staff3, true))
	require.NoError(t, f.conversations.Mute(ctx, f.h, convID, staff7, true))

	for3, err := f.conversations.List(ctx, f.h, staff3)
	require.NoError(t, err)
	require.Len(t, for3, 1)
	assert.True(t, for3[0].Archived)
	assert.False(t, for3[0].Muted)

	for7, err := f.conversations.List(ctx, f.h, staff7)
	require.NoError(t, err)
	require.Len(t, for7, 1)
	assert.False(t, for7[0].Archived)
	assert.True(t, for7[0].Muted)
	assert.Equal(t, "hi", *for7[0].LastMessageText)
	assert.Equal(t, 1, for7[0].UnreadCount)

	require.NoError(t, f.conversations.Archive(ctx, f.h, convID, staff3, false))
	assert.True(t, errors.Is(f.conversations.Mute(ctx, f.h, convID, admin1, true), apperr.ErrForbidden))
	assert.True(t, errors.Is(f.conversations.Archive(ctx, f.h, 999, staff3, true), apperr.ErrNotFound))
}

func TestListConversationsOrdersByActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.conversations.CreateOrGet(ctx, f.h, staff3, admin1.Participant)
	require.NoError(t, err)
	f.send(t, staff3, staff7, "older")
	f.send(t, customer5, staff3, "newer")

	views, err := f.conversations.List(ctx, f.h, staff3)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, customer5.Participant, views[0].Other.Participant)
	assert.Equal(t, staff7.Participant, views[1].Other.Participant)
	assert.Equal(t, admin1.Participant, views[2].Other.Participant)
	assert.Nil(t, views[2].LastMessageAt)

	counts, err := f.conversations.UnreadCounts(ctx, f.h, staff3)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[views[0].ID])
	assert.Equal(t, 0, counts[views[1].ID])
}

func TestClearKeepsConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	convID := f.send(t, staff3, staff7, "a").ConversationID
	f.send(t, staff7, staff3, "b")

	require.NoError(t, f.conversations.Clear(ctx, f.h, convID, staff7))
	conv := f.conversation(t, convID)
	assert.Nil(t, conv.LastMessageID)
	assert.Nil(t, conv.LastMessageAt)
	assert.Zero(t, conv.UnreadCountSlotA)
	assert.Zero(t, conv.UnreadCountSlotB)
	assert.Zero(t, f.count(t, "chat_messages"))
	assert.Len(t, f.events.ofType(models.EventConversationCleared), 1)
}

func TestDeleteConversationCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	convID := f.send(t, staff3, staff7, "a").ConversationID
	f.send(t, admin1, staff3, "unrelated")

	assert.True(t, errors.Is(f.conversations.Delete(ctx, f.h, convID, admin1), apperr.ErrForbidden))
	require.NoError(t, f.conversations.Delete(ctx, f.h, convID, staff3))

	assert.Equal(t, 1, f.count(t, "chat_conversations"))
	assert.Equal(t, 1, f.count(t, "chat_messages"))
	assert.True(t, errors.Is(f.conversations.Delete(ctx, f.h, convID, staff3), apperr.ErrNotFound))

	deleted := f.events.ofType(models.EventConversationDeleted)
	require.Len(t, deleted, 1)
	assert.ElementsMatch(t, []models.Participant{staff3.Participant, staff7.Participant}, deleted[0].Recipients)
}

func blobCount(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return err
	})
	require.NoError(t, err)
	return n
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestSendAttachmentStoresBlob(t *testing.T) {
	f := newFixture(t)

	view, err := f.messages.SendAttachment(context.Background(), f.h, staff3, AttachmentRequest{
		Receiver: staff7.Participant,
		Upload:   media.Upload{Reader: bytes.NewReader(pngHeader), Name: "plan.png"},
		Caption:  text("the plan"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.MessageImage, view.Type)
	require.NotNil(t, view.Attachment)
	assert.Equal(t, "plan.png", view.Attachment.Name)
	assert.Equal(t, "image/png", view.Attachment.MIMEType)
	assert.Equal(t, int64(len(pngHeader)), view.Attachment.Size)
	assert.Equal(t, 1, blobCount(t, f.blobRoot))
}

func TestSendAttachmentDiscardsBlobOnFailure(t *testing.T) {
	f := newFixture(t)
	missing := int64(12345)

	_, err := f.messages.SendAttachment(context.Background(), f.h, staff3, AttachmentRequest{
		Receiver: staff7.Participant,
		Upload:   media.Upload{Reader: bytes.NewReader(pngHeader), Name: "plan.png"},
		ReplyTo:  &missing,
	})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
	assert.Zero(t, blobCount(t, f.blobRoot))
	assert.Zero(t, f.count(t, "chat_messages"))
}

func TestSendVoiceRequiresAudio(t *testing.T) {
	f := newFixture(t)

	_, err := f.messages.SendVoice(context.Background(), f.h, staff3, AttachmentRequest{
		Receiver: staff7.Participant,
		Upload:   media.Upload{Reader: bytes.NewReader(pngHeader), Name: "voice.png"},
	})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))
	assert.Zero(t, blobCount(t, f.blobRoot))
}

func TestSendAttachmentChecksPolicyFirst(t *testing.T) {
	f := newFixture(t)

	_, err := f.messages.SendAttachment(context.Background(), f.h, staff3, AttachmentRequest{
		Receiver: customer5.Participant,
		Upload:   media.Upload{Reader: bytes.NewReader(pngHeader), Name: "plan.png"},
	})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	assert.Zero(t, blobCount(t, f.blobRoot))
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, staff3, staff7, "a")
	f.send(t, staff7, staff3, "b")
	f.send(t, staff7, staff3, "c")
	f.send(t, admin1, staff3, "d")

	stats, err := f.messages.Statistics(ctx, f.h, staff3)
	require.NoError(t, err)
	assert.Equal(t, models.ChatStatistics{SentMessages: 1, ReceivedMessages: 3, TotalMessages: 4, Conversations: 2}, stats)
}

func TestPresenceAndSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, staff3, staff7, "hi")
	_, err := f.presence.Update(ctx, f.h, staff3.Participant, models.PresenceOnline)
	require.NoError(t, err)
	_, err = f.presence.Update(ctx, f.h, staff7.Participant, models.PresenceBusy)
	require.NoError(t, err)
	_, err = f.presence.Update(ctx, f.h, staff3.Participant, "sleeping")
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	changed := f.events.ofType(models.EventPresenceChanged)
	require.Len(t, changed, 2)
	assert.Equal(t, []models.Participant{staff7.Participant}, changed[0].Recipients)

	statuses, err := f.presence.Statuses(ctx, f.h, []int64{3, 7, 9}, models.AccountStaff)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, models.PresenceOnline, statuses[0].Status)
	assert.Equal(t, models.PresenceBusy, statuses[1].Status)

	f.clock.Advance(10 * time.Minute)
	n, err := f.presence.Sweep(ctx, f.h, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	statuses, err = f.presence.Statuses(ctx, f.h, []int64{3, 7}, models.AccountStaff)
	require.NoError(t, err)
	for _, p := range statuses {
		assert.Equal(t, models.PresenceOffline, p.Status)
	}

	n, err = f.presence.Sweep(ctx, f.h, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSettingsDefaultsAndPatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	settings, err := f.presence.Settings(ctx, f.h, customer5.Participant)
	require.NoError(t, err)
	assert.Equal(t, "light", settings.Theme)
	assert.Equal(t, "medium", settings.FontSize)
	assert.True(t, settings.ShowReadReceipts)
	assert.True(t, settings.EmailNotifications)

	dark := "dark"
	off := false
	updated, err := f.presence.UpdateSettings(ctx, f.h, customer5.Participant, models.SettingsPatch{Theme: &dark, ShowReadReceipts: &off})
	require.NoError(t, err)
	assert.Equal(t, "dark", updated.Theme)
	assert.False(t, updated.ShowReadReceipts)
	assert.True(t, updated.ShowOnlineStatus)

	reread, err := f.presence.Settings(ctx, f.h, customer5.Participant)
	require.NoError(t, err)
	assert.Equal(t, updated.Theme, reread.Theme)
	assert.False(t, reread.ShowReadReceipts)

	neon := "neon"
	_, err = f.presence.UpdateSettings(ctx, f.h, customer5.Participant, models.SettingsPatch{Theme: &neon})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	fresh, err := f.presence.UpdateSettings(ctx, f.h, staff7.Participant, models.SettingsPatch{FontSize: text("large")})
	require.NoError(t, err)
	assert.Equal(t, "large", fresh.FontSize)
	assert.Equal(t, "light", fresh.Theme)
}

func TestContactsFollowVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	adminContacts, err := f.contacts.Available(ctx, f.h, admin1)
	require.NoError(t, err)
	assert.Len(t, adminContacts.Staff, 2)
	assert.Len(t, adminContacts.Customers, 2)

	staffContacts, err := f.contacts.Available(ctx, f.h, staff3)
	require.NoError(t, err)
	assert.Len(t, staffContacts.Staff, 2)
	assert.Empty(t, staffContacts.Customers)

	customerContacts, err := f.contacts.Available(ctx, f.h, customer5)
	require.NoError(t, err)
	require.Len(t, customerContacts.Staff, 1)
	assert.Equal(t, staff3.Participant, customerContacts.Staff[0].Participant)

	none, err := f.contacts.Available(ctx, f.h, customer6)
	require.NoError(t, err)
	assert.Empty(t, none.Staff)

	carl, err := f.contacts.Search(ctx, f.h, admin1, "carl", models.AccountStaff)
	require.NoError(t, err)
	require.Len(t, carl.Staff, 1)
	assert.Equal(t, staff7.Participant, carl.Staff[0].Participant)
	assert.Empty(t, carl.Customers)

	miss, err := f.contacts.Search(ctx, f.h, customer5, "zzz", "")
	require.NoError(t, err)
	assert.Empty(t, miss.Staff)
}
