package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomcast/internal/model"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func newFileStore(t *testing.T, dir string, opts Options) *Store {
	t.Helper()
	snap, err := NewFileSnapshotter(filepath.Join(dir, "chat_data.json"))
	require.NoError(t, err)
	opts.Snapshotter = snap
	opts.Logger = zerolog.Nop()
	if opts.Mode == ModeJournal && opts.JournalPath == "" {
		opts.JournalPath = filepath.Join(dir, "chat_data.journal")
	}
	s, err := New(opts)
	require.NoError(t, err)
	s.Load()
	return s
}

func textMessage(id, author, room, body string, at time.Time) model.Message {
	return model.Message{ID: id, Author: author, Body: body, Room: room, Type: model.MessageText, Timestamp: at}
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	snap, err := NewFileSnapshotter(filepath.Join(t.TempDir(), "d.json"))
	require.NoError(t, err)

	_, err = New(Options{Snapshotter: snap, Mode: ModeJournal})
	require.Error(t, err)

	_, err = New(Options{Snapshotter: snap, Mode: "bogus"})
	require.Error(t, err)
}

func TestLoadWithoutSnapshotSeedsDefaultRooms(t *testing.T) {
	s := newFileStore(t, t.TempDir(), Options{})

	rooms := s.ListRooms()
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"general", "random", "tech"}, ids)
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	s := newFileStore(t, t.TempDir(), Options{})

	u, err := s.CreateUser(model.User{Username: "alice"})
	require.NoError(t, err)
	assert.False(t, u.JoinDate.IsZero())
	assert.Equal(t, model.DefaultPreferences(), s.Preferences("alice"))

	_, err = s.CreateUser(model.User{Username: "alice"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	s := newFileStore(t, t.TempDir(), Options{})

	_, created := s.EnsureUser("bob")
	assert.True(t, created)
	_, created = s.EnsureUser("bob")
	assert.False(t, created)
	assert.Len(t, s.ListUsers(), 1)
}

func TestHistoryIsBoundedFIFO(t *testing.T) {
	clock := newClock()
	s := newFileStore(t, t.TempDir(), Options{MaxHistory: 5, Now: clock.Now})

	for i := 0; i < 8; i++ {
		s.AppendMessage(textMessage(fmt.Sprintf("m%d", i), "alice", "general", "hi", clock.Now()))
		clock.Advance(time.Second)
	}

	recent := s.RecentMessages(0)
	require.Len(t, recent, 5)
	assert.Equal(t, "m3", recent[0].ID)
	assert.Equal(t, "m7", recent[4].ID)

	_, err := s.GetMessage("m0")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestRecentInRoomFiltersAndOrders(t *testing.T) {
	clock := newClock()
	s := newFileStore(t, t.TempDir(), Options{Now: clock.Now})

	for i := 0; i < 6; i++ {
		room := "general"
		if i%2 == 1 {
			room = "tech"
		}
		s.AppendMessage(textMessage(fmt.Sprintf("m%d", i), "alice", room, "x", clock.Now()))
	}

	got := s.RecentInRoom("tech", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "m3", got[0].ID)
	assert.Equal(t, "m5", got[1].ID)
	assert.Empty(t, s.RecentInRoom("random", 5))
}

func TestSearchMessages(t *testing.T) {
	clock := newClock()
	s := newFileStore(t, t.TempDir(), Options{Now: clock.Now})

	s.AppendMessage(textMessage("a", "alice", "general", "Hello World", clock.Now()))
	s.AppendMessage(textMessage("b", "bob", "general", "goodbye", clock.Now()))
	s.AppendMessage(textMessage("c", "carol", "tech", "hello again", clock.Now()))

	got := s.SearchMessages("HELLO", 20)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID, "newest first")
	assert.Equal(t, "a", got[1].ID)

	assert.Len(t, s.SearchMessages("hello", 1), 1)
	assert.Empty(t, s.SearchMessages("   ", 20))
}

func TestSearchOnlyCoversRecentWindow(t *testing.T) {
	clock := newClock()
	s := newFileStore(t, t.TempDir(), Options{Now: clock.Now})

	s.AppendMessage(textMessage("old", "alice", "general", "needle", clock.Now()))
	for i := 0; i < searchWindow; i++ {
		s.AppendMessage(textMessage(fmt.Sprintf("f%d", i), "alice", "general", "filler", clock.Now()))
	}
	assert.Empty(t, s.SearchMessages("needle", 20))
}

func TestToggleReactionTwiceRestoresState(t *testing.T) {
	clock := newClock()
	s := newFileStore(t, t.TempDir(), Options{Now: clock.Now})
	s.AppendMessage(textMessage("m1", "alice", "general", "hi", clock.Now()))

	action, total, err := s.ToggleReaction("m1", "bob", "👍")
	require.NoError(t, err)
	assert.Equal(t, "added", action)
	assert.Equal(t, 1, total)

	action, total, err = s.ToggleReaction("m1", "bob", "👍")
	require.NoError(t, err)
	assert.Equal(t, "removed", action)
	assert.Equal(t, 0, total)
	assert.Empty(t, s.Reactions("m1"))

	_, _, err = s.ToggleReaction("missing", "bob", "👍")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestPrivateMessagesAreSymmetric(t *testing.T) {
	clock := newClock()
	s := newFileStore(t, t.TempDir(), Options{Now: clock.Now})
	s.EnsureUser("alice")
	s.EnsureUser("bob")

	require.NoError(t, s.AppendPrivateMessage(model.PrivateMessage{ID: "1", Sender: "alice", Recipient: "bob", Body: "hi", Timestamp: clock.Now()}))
	require.NoError(t, s.AppendPrivateMessage(model.PrivateMessage{ID: "2", Sender: "bob", Recipient: "alice", Body: "hey", Timestamp: clock.Now()}))

	ab := s.PrivateMessages("alice", "bob")
	ba := s.PrivateMessages("bob", "alice")
	assert.Equal(t, ab, ba)
	require.Len(t, ab, 2)
	assert.Equal(t, "1", ab[0].ID)

	err := s.AppendPrivateMessage(model.PrivateMessage{ID: "3", Sender: "alice", Recipient: "ghost"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPrivateThreadsDoNotCollide(t *testing.T) {
	s := newFileStore(t, t.TempDir(), Options{})
	for _, u := range []string{"a:b", "c", "a", "b:c"} {
		s.EnsureUser(u)
	}
	require.NoError(t, s.AppendPrivateMessage(model.PrivateMessage{ID: "1", Sender: "a:b", Recipient: "c", Body: "secret"}))

	assert.NotEqual(t, model.PairKey("a:b", "c"), model.PairKey("a", "b:c"))
	assert.Empty(t, s.PrivateMessages("a", "b:c"))
	assert.Len(t, s.PrivateMessages("c", "a:b"), 1)
}

func TestVoteIsExclusive(t *testing.T) {
	clock := newClock()
	s := newFileStore(t, t.TempDir(), Options{Now: clock.Now})
	s.AppendMessage(model.Message{
		ID: "m1", Author: "alice", Room: "general", Type: model.MessagePoll, Timestamp: clock.Now(),
		Poll: &model.Poll{ID: "p1", Question: "Lunch?", Options: []string{"pizza", "sushi"}, Active: true},
	})

	_, err := s.Vote("p1", "bob", "pizza")
	require.NoError(t, err)
	p, err := s.Vote("p1", "bob", "sushi")
	require.NoError(t, err)

	assert.Empty(t, p.Votes["pizza"])
	assert.Equal(t, []string{"bob"}, p.Votes["sushi"])

	seq := s.Summary().Seq
	_, err = s.Vote("p1", "bob", "sushi")
	require.NoError(t, err)
	assert.Equal(t, seq, s.Summary().Seq, "repeating the current vote writes nothing")

	_, err = s.Vote("p1", "bob", "tacos")
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = s.Vote("nope", "bob", "pizza")
	assert.ErrorIs(t, err, ErrPollNotFound)
}

func TestDownloadsAreMonotonic(t *testing.T) {
	s := newFileStore(t, t.TempDir(), Options{})
	s.AddFileShare(model.FileShare{ID: "f1", OriginalName: "a.txt", UploadedBy: "alice", Size: 10, Downloads: 99})

	f, err := s.GetFileShare("f1")
	require.NoError(t, err)
	assert.Equal(t, 0, f.Downloads)

	for want := 1; want <= 3; want++ {
		n, err := s.RecordDownload("f1")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	_, err = s.RecordDownload("missing")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestStatsAreCreatedOnDemand(t *testing.T) {
	s := newFileStore(t, t.TempDir(), Options{})

	assert.Equal(t, model.UserStats{}, s.Stats("ghost"))
	s.IncrementMessageCount("ghost")
	s.IncrementMessageCount("ghost")
	s.RecordLogin("ghost")

	st := s.Stats("ghost")
	assert.Equal(t, 2, st.MessageCount)
	assert.Equal(t, 1, st.LoginCount)
}

func TestBanAndUnban(t *testing.T) {
	s := newFileStore(t, t.TempDir(), Options{})

	s.Ban("mallory")
	s.Ban("mallory")
	assert.True(t, s.IsBanned("mallory"))
	assert.Equal(t, []string{"mallory"}, s.BannedUsers())

	assert.True(t, s.Unban("mallory"))
	assert.False(t, s.Unban("mallory"))
	assert.False(t, s.IsBanned("mallory"))
}

func TestBlockAndRoomMembership(t *testing.T) {
	s := newFileStore(t, t.TempDir(), Options{})
	s.EnsureUser("alice")
	s.EnsureUser("bob")

	require.NoError(t, s.SetBlocked("alice", "bob", true))
	u, _ := s.GetUser("alice")
	assert.True(t, u.HasBlocked("bob"))
	require.NoError(t, s.SetBlocked("alice", "bob", false))
	u, _ = s.GetUser("alice")
	assert.False(t, u.HasBlocked("bob"))

	r, err := s.CreateRoom(model.Room{ID: "game_night", Name: "Game Night", CreatedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, r.Members)
	_, err = s.CreateRoom(model.Room{ID: "game_night", Name: "game night"})
	assert.ErrorIs(t, err, ErrRoomExists)

	require.NoError(t, s.AddRoomMember("game_night", "bob"))
	require.NoError(t, s.AddRoomMember("game_night", "bob"))
	require.NoError(t, s.RemoveRoomMember("game_night", "alice"))
	r, _ = s.GetRoom("game_night")
	assert.Equal(t, []string{"bob"}, r.Members)

	u, _ = s.GetUser("alice")
	assert.Equal(t, []string{"game_night"}, u.CreatedRooms)
	assert.ErrorIs(t, s.AddRoomMember("nowhere", "bob"), ErrRoomNotFound)
}

func TestCleanupDropsOldMessagesAndOrphanReactions(t *testing.T) {
	clock := newClock()
	s := newFileStore(t, t.TempDir(), Options{Now: clock.Now})

	s.AppendMessage(textMessage("old", "alice", "general", "a", clock.Now()))
	_, _, err := s.ToggleReaction("old", "bob", "🔥")
	require.NoError(t, err)
	clock.Advance(40 * 24 * time.Hour)
	s.AppendMessage(textMessage("new", "alice", "general", "b", clock.Now()))

	removed := s.Cleanup(30 * 24 * time.Hour)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.HistoryLen())
	assert.Empty(t, s.Reactions("old"))
	assert.Zero(t, s.Cleanup(30*24*time.Hour))
}

func TestSnapshotModeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	s := newFileStore(t, dir, Options{Now: clock.Now})
	s.EnsureUser("alice")
	s.AppendMessage(textMessage("m1", "alice", "general", "persist me", clock.Now()))
	require.NoError(t, s.Close())

	reloaded := newFileStore(t, dir, Options{Now: clock.Now})
	assert.True(t, reloaded.UserExists("alice"))
	msg, err := reloaded.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, "persist me", msg.Body)

	_, err = os.Stat(filepath.Join(dir, "chat_data.json.backup"))
	assert.NoError(t, err, "previous generation is kept as backup")
}

func TestCorruptSnapshotFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	s := newFileStore(t, dir, Options{})
	s.EnsureUser("alice")
	s.EnsureUser("bob")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat_data.json"), []byte("{not json"), 0o600))

	reloaded := newFileStore(t, dir, Options{})
	assert.True(t, reloaded.UserExists("alice"), "backup holds the state before the last write")
	assert.False(t, reloaded.UserExists("bob"))
}

func TestUnreadableSnapshotsFallBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat_data.json"), []byte("garbage"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat_data.json.backup"), []byte("garbage"), 0o600))

	s := newFileStore(t, dir, Options{})
	assert.Len(t, s.ListRooms(), 3)
	assert.Empty(t, s.ListUsers())
}

func TestJournalReplayRestoresUncompactedMutations(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	s := newFileStore(t, dir, Options{Mode: ModeJournal, CompactEvery: 1000, Now: clock.Now})
	s.EnsureUser("alice")
	s.AppendMessage(textMessage("m1", "alice", "general", "journaled", clock.Now()))
	_, _, err := s.ToggleReaction("m1", "alice", "❤️")
	require.NoError(t, err)
	assert.Equal(t, 3, s.Summary().PendingJournal)

	// Simulate a crash: no Close, so no final snapshot.
	require.NoError(t, s.journal.Close())

	reloaded := newFileStore(t, dir, Options{Mode: ModeJournal, CompactEvery: 1000, Now: clock.Now})
	assert.True(t, reloaded.UserExists("alice"))
	assert.Len(t, reloaded.Reactions("m1"), 1)
	assert.Equal(t, uint64(3), reloaded.Summary().Seq)
}

func TestJournalCompactionSkipsFoldedRecords(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	s := newFileStore(t, dir, Options{Mode: ModeJournal, CompactEvery: 2, Now: clock.Now})
	for i := 0; i < 5; i++ {
		s.IncrementMessageCount("alice")
	}
	assert.Equal(t, 1, s.Summary().PendingJournal)
	require.NoError(t, s.journal.Close())

	reloaded := newFileStore(t, dir, Options{Mode: ModeJournal, CompactEvery: 2, Now: clock.Now})
	assert.Equal(t, 5, reloaded.Stats("alice").MessageCount)
}

func TestSQLiteSnapshotterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.db")

	snap, err := NewSQLiteSnapshotter(path)
	require.NoError(t, err)
	s, err := New(Options{Snapshotter: snap, Logger: zerolog.Nop()})
	require.NoError(t, err)
	s.Load()
	s.EnsureUser("alice")
	s.EnsureUser("bob")
	s.EnsureUser("carol")

	gens, err := snap.Generations()
	require.NoError(t, err)
	assert.Equal(t, 2, gens, "only two generations are retained")
	require.NoError(t, s.Close())

	snap2, err := NewSQLiteSnapshotter(path)
	require.NoError(t, err)
	reloaded, err := New(Options{Snapshotter: snap2, Logger: zerolog.Nop()})
	require.NoError(t, err)
	reloaded.Load()
	defer reloaded.Close()

	assert.Len(t, reloaded.ListUsers(), 3)
}

func TestJournalSurvivesTornLineAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	opts := Options{Mode: ModeJournal, CompactEvery: 1000, Now: clock.Now}
	journalPath := filepath.Join(dir, "chat_data.journal")

	s := newFileStore(t, dir, opts)
	s.AppendMessage(textMessage("m1", "alice", "general", "one", clock.Now()))
	require.NoError(t, s.journal.Close())

	// A crash mid-append leaves half a record at the end of the journal.
	f, err := os.OpenFile(journalPath, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"op":"message.app`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s = newFileStore(t, dir, opts)
	require.Equal(t, 1, s.HistoryLen())
	s.AppendMessage(textMessage("m2", "alice", "general", "two", clock.Now()))
	s.AppendMessage(textMessage("m3", "alice", "general", "three", clock.Now()))
	require.NoError(t, s.journal.Close())

	s = newFileStore(t, dir, opts)
	defer s.Close()
	assert.Equal(t, 3, s.HistoryLen())
	msgs := s.RecentMessages(10)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestRoundTripAcrossBackends(t *testing.T) {
	tests := []struct {
		name string
		open func(t *testing.T, dir string, now func() time.Time) *Store
	}{
		{"file snapshot", func(t *testing.T, dir string, now func() time.Time) *Store {
			return newFileStore(t, dir, Options{Now: now})
		}},
		{"file journal", func(t *testing.T, dir string, now func() time.Time) *Store {
			return newFileStore(t, dir, Options{Mode: ModeJournal, CompactEvery: 1000, Now: now})
		}},
		{"sqlite snapshot", func(t *testing.T, dir string, now func() time.Time) *Store {
			snap, err := NewSQLiteSnapshotter(filepath.Join(dir, "chat.db"))
			require.NoError(t, err)
			s, err := New(Options{Snapshotter: snap, Logger: zerolog.Nop(), Now: now})
			require.NoError(t, err)
			s.Load()
			return s
		}},
		{"sqlite journal", func(t *testing.T, dir string, now func() time.Time) *Store {
			snap, err := NewSQLiteSnapshotter(filepath.Join(dir, "chat.db"))
			require.NoError(t, err)
			s, err := New(Options{
				Snapshotter: snap, Mode: ModeJournal, JournalPath: filepath.Join(dir, "chat.journal"),
				CompactEvery: 1000, Logger: zerolog.Nop(), Now: now,
			})
			require.NoError(t, err)
			s.Load()
			return s
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			clock := newClock()

			s := tt.open(t, dir, clock.Now)
			s.EnsureUser("alice")
			s.EnsureUser("bob")
			_, err := s.CreateRoom(model.Room{ID: "book_club", Name: "Book Club", Description: "reading", CreatedBy: "alice"})
			require.NoError(t, err)
			require.NoError(t, s.AddRoomMember("book_club", "bob"))
			for i := 1; i <= 4; i++ {
				clock.Advance(time.Second)
				room := "general"
				if i%2 == 0 {
					room = "book_club"
				}
				s.AppendMessage(textMessage(fmt.Sprintf("m%d", i), "alice", room, fmt.Sprintf("body %d", i), clock.Now()))
			}
			require.NoError(t, s.Close())

			reloaded := tt.open(t, dir, clock.Now)
			defer reloaded.Close()

			assert.Len(t, reloaded.ListUsers(), 2)
			room, err := reloaded.GetRoom("book_club")
			require.NoError(t, err)
			assert.Equal(t, "Book Club", room.Name)
			assert.Equal(t, "reading", room.Description)
			assert.Equal(t, "alice", room.CreatedBy)
			assert.Equal(t, []string{"alice", "bob"}, room.Members)
			assert.Len(t, reloaded.ListRooms(), 4)

			msgs := reloaded.RecentMessages(10)
			require.Len(t, msgs, 4)
			for i, m := range msgs {
				assert.Equal(t, fmt.Sprintf("m%d", i+1), m.ID)
				assert.Equal(t, fmt.Sprintf("body %d", i+1), m.Body)
			}
			inRoom := reloaded.RecentInRoom("book_club", 10)
			require.Len(t, inRoom, 2)
			assert.Equal(t, "m2", inRoom[0].ID)
			assert.Equal(t, "m4", inRoom[1].ID)
		})
	}
}
