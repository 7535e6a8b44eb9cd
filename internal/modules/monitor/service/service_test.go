package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	dispatchDomain "github.com/creatorpulse/patreon-notify/internal/modules/dispatch/domain"
	feedDomain "github.com/creatorpulse/patreon-notify/internal/modules/feed/domain"
	feedService "github.com/creatorpulse/patreon-notify/internal/modules/feed/service"
	filterService "github.com/creatorpulse/patreon-notify/internal/modules/filter/service"
	"github.com/creatorpulse/patreon-notify/internal/shared/config"
	apperrors "github.com/creatorpulse/patreon-notify/internal/shared/errors"
)

type fakeFetcher struct {
	stream *feedDomain.StreamResponse
	err    error
}

func (f *fakeFetcher) FetchStream(context.Context) (*feedDomain.StreamResponse, error) {
	return f.stream, f.err
}

type fakeStore struct {
	seen map[string]bool
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{seen: make(map[string]bool)}
	for _, id := range ids {
		s.seen[id] = true
	}
	return s
}

func (s *fakeStore) IsSeen(id string) bool { return s.seen[id] }
func (s *fakeStore) MarkSeen(id string)    { s.seen[id] = true }
func (s *fakeStore) Count() int            { return len(s.seen) }

type sentNotification struct {
	title   string
	message string
	meta    dispatchDomain.Metadata
}

type fakeNotifier struct {
	sent []sentNotification
	err  error
}

func (n *fakeNotifier) Dispatch(_ context.Context, title, message string, meta dispatchDomain.Metadata) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentNotification{title: title, message: message, meta: meta})
	return nil
}

type fakeHealth struct {
	apiFailures          int
	apiSuccesses         int
	notificationFailures int
	cookieExpirations    int
}

func (h *fakeHealth) RecordAPISuccess()               { h.apiSuccesses++ }
func (h *fakeHealth) RecordAPIFailure(error)          { h.apiFailures++ }
func (h *fakeHealth) RecordNotificationSuccess()      {}
func (h *fakeHealth) RecordNotificationFailure(error) { h.notificationFailures++ }
func (h *fakeHealth) RecordCookieExpired(error)       { h.cookieExpirations++ }

type fakeArchive struct {
	saved []*feedDomain.ParsedNotification
}

func (a *fakeArchive) SavePost(post *feedDomain.ParsedNotification) error {
	a.saved = append(a.saved, post)
	return nil
}

func postItem(id, title, userID string) feedDomain.RawItem {
	return feedDomain.RawItem{
		ID:   id,
		Type: "post",
		Attributes: feedDomain.RawAttributes{
			Title:       title,
			URL:         "https://www.patreon.com/posts/" + id,
			PublishedAt: "2024-06-01T12:00:00Z",
		},
		Relationships: map[string]feedDomain.Relationship{
			"user": {Data: feedDomain.RelationshipData{ID: userID, Type: "user"}},
		},
	}
}

func streamWith(items ...feedDomain.RawItem) *feedDomain.StreamResponse {
	return &feedDomain.StreamResponse{
		Data: items,
		Included: []feedDomain.RawEntity{
			{ID: "u1", Type: "user", Attributes: feedDomain.EntityAttributes{FullName: "Alice"}},
		},
	}
}

type deps struct {
	fetcher  *fakeFetcher
	store    *fakeStore
	notifier *fakeNotifier
	health   *fakeHealth
	archive  *fakeArchive
}

func newMonitor(cfg *config.Config, d deps) *Service {
	if cfg == nil {
		cfg = &config.Config{OnlyNewPosts: true}
	}
	var archive Archiver
	if d.archive != nil {
		archive = d.archive
	}
	return New(cfg, d.fetcher, feedService.NewParser(), filterService.New(cfg),
		d.store, d.notifier, d.health, archive)
}

func TestRunOnceDispatchesNewPost(t *testing.T) {
	d := deps{
		fetcher:  &fakeFetcher{stream: streamWith(postItem("p1", "Ep. 10", "u1"))},
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		health:   &fakeHealth{},
		archive:  &fakeArchive{},
	}
	m := newMonitor(nil, d)

	if got := m.RunOnce(context.Background()); got != 1 {
		t.Fatalf("RunOnce() = %d, want 1", got)
	}

	sent := d.notifier.sent[0]
	if sent.title != "New Patreon Post: Alice" {
		t.Errorf("title = %q", sent.title)
	}
	if sent.message != "Ep. 10" {
		t.Errorf("message = %q, want the subject", sent.message)
	}
	if sent.meta.URL != "https://www.patreon.com/posts/p1" {
		t.Errorf("meta.URL = %q", sent.meta.URL)
	}
	if !d.store.IsSeen("p1") {
		t.Error("dispatched post should be marked seen")
	}
	if len(d.archive.saved) != 1 || d.archive.saved[0].ID != "p1" {
		t.Error("dispatched post should be archived")
	}
	if d.health.apiSuccesses != 1 {
		t.Errorf("api successes = %d, want 1", d.health.apiSuccesses)
	}
}

func TestRunOnceSkipsSeenItems(t *testing.T) {
	d := deps{
		fetcher:  &fakeFetcher{stream: streamWith(postItem("p1", "Ep. 10", "u1"))},
		store:    newFakeStore("p1"),
		notifier: &fakeNotifier{},
		health:   &fakeHealth{},
	}
	m := newMonitor(nil, d)

	if got := m.RunOnce(context.Background()); got != 0 {
		t.Errorf("RunOnce() = %d, want 0 for an already-seen item", got)
	}
	if len(d.notifier.sent) != 0 {
		t.Error("seen item must not be re-dispatched")
	}
}

func TestRunOnceMarksFilteredItemsSeen(t *testing.T) {
	cfg := &config.Config{
		OnlyNewPosts:    true,
		EnabledCreators: []string{"Somebody Else"},
	}
	d := deps{
		fetcher:  &fakeFetcher{stream: streamWith(postItem("p1", "Ep. 10", "u1"))},
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		health:   &fakeHealth{},
	}
	m := newMonitor(cfg, d)

	if got := m.RunOnce(context.Background()); got != 0 {
		t.Errorf("RunOnce() = %d, want 0", got)
	}
	if len(d.notifier.sent) != 0 {
		t.Error("filtered item must not be dispatched")
	}
	if !d.store.IsSeen("p1") {
		t.Error("filtered item must still be marked seen")
	}
}

func TestRunOnceFetchFailure(t *testing.T) {
	d := deps{
		fetcher:  &fakeFetcher{err: errors.New("connection refused")},
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		health:   &fakeHealth{},
	}
	m := newMonitor(nil, d)

	if got := m.RunOnce(context.Background()); got != 0 {
		t.Errorf("RunOnce() = %d, want 0 on fetch failure", got)
	}
	if d.health.apiFailures != 1 {
		t.Errorf("api failures = %d, want 1", d.health.apiFailures)
	}
}

func TestRunOnceExpiredCredentials(t *testing.T) {
	d := deps{
		fetcher:  &fakeFetcher{err: apperrors.ErrCredentialExpired},
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		health:   &fakeHealth{},
	}
	m := newMonitor(nil, d)

	m.RunOnce(context.Background())
	if d.health.cookieExpirations != 1 {
		t.Errorf("cookie expirations = %d, want 1", d.health.cookieExpirations)
	}
	if d.health.apiFailures != 0 {
		t.Errorf("api failures = %d, want 0 (routed to the cookie category)", d.health.apiFailures)
	}
}

func TestRunOnceRetriesFailedDelivery(t *testing.T) {
	d := deps{
		fetcher:  &fakeFetcher{stream: streamWith(postItem("p1", "Ep. 10", "u1"))},
		store:    newFakeStore(),
		notifier: &fakeNotifier{err: errors.New("all notification channels failed")},
		health:   &fakeHealth{},
	}
	m := newMonitor(nil, d)

	if got := m.RunOnce(context.Background()); got != 0 {
		t.Fatalf("RunOnce() = %d, want 0", got)
	}
	if d.health.notificationFailures != 1 {
		t.Errorf("notification failures = %d, want 1", d.health.notificationFailures)
	}
	if d.store.IsSeen("p1") {
		t.Error("undelivered item must stay unseen so the next cycle retries it")
	}

	// Channels recover, next cycle delivers
	d.notifier.err = nil
	if got := m.RunOnce(context.Background()); got != 1 {
		t.Errorf("RunOnce() after recovery = %d, want 1", got)
	}
}

func TestRunOncePrefersSubjectOverBody(t *testing.T) {
	item := postItem("p1", "Ep. 10", "u1")
	item.Attributes.Content = "full body text here"

	d := deps{
		fetcher:  &fakeFetcher{stream: streamWith(item)},
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		health:   &fakeHealth{},
	}
	m := newMonitor(nil, d)
	m.RunOnce(context.Background())

	if got := d.notifier.sent[0].message; got != "Ep. 10" {
		t.Errorf("message = %q, want the subject even when a body is present", got)
	}
}

func TestRunOnceTruncatesLongMessages(t *testing.T) {
	// Subjects are dispatched as-is, so only here can the message
	// exceed the delivery limit
	item := postItem("p1", strings.Repeat("a", 500), "u1")

	d := deps{
		fetcher:  &fakeFetcher{stream: streamWith(item)},
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		health:   &fakeHealth{},
	}
	m := newMonitor(nil, d)
	m.RunOnce(context.Background())

	message := d.notifier.sent[0].message
	if len([]rune(message)) != 200 {
		t.Errorf("len(message) = %d, want 200", len([]rune(message)))
	}
	if !strings.HasSuffix(message, "...") {
		t.Error("truncated message should end with an ellipsis")
	}
}

func TestEntityIndexPersistsAcrossCycles(t *testing.T) {
	fetcher := &fakeFetcher{stream: streamWith()}
	d := deps{
		fetcher:  fetcher,
		store:    newFakeStore(),
		notifier: &fakeNotifier{},
		health:   &fakeHealth{},
	}
	m := newMonitor(nil, d)

	// First cycle carries the entity, second cycle carries only the post
	m.RunOnce(context.Background())
	fetcher.stream = &feedDomain.StreamResponse{
		Data: []feedDomain.RawItem{postItem("p2", "Ep. 11", "u1")},
	}
	m.RunOnce(context.Background())

	if len(d.notifier.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(d.notifier.sent))
	}
	if got := d.notifier.sent[0].title; got != "New Patreon Post: Alice" {
		t.Errorf("title = %q, want creator resolved from the earlier cycle", got)
	}
}
