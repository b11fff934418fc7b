package app

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/archive"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/auth"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/authpw"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/config"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/email"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/export"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/gitrepo"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/search"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/session"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/store"
)

const testSecret = "test-secret"

type fakeStore struct {
	mu          sync.Mutex
	researchers map[string]store.Researcher
	sessions    map[string]store.Session
	records     map[string][]experiment.Record
	items       []store.StimulusItem
	submissions int
	submitErr   error
	pingErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		researchers: map[string]store.Researcher{},
		sessions:    map[string]store.Session{},
		records:     map[string][]experiment.Record{},
	}
}

func (f *fakeStore) addResearcher(t *testing.T, id, emailAddr, password, role string) store.Researcher {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	researcher := store.Researcher{
		ID:           id,
		Email:        emailAddr,
		DisplayName:  strings.Split(emailAddr, "@")[0],
		PasswordHash: string(hash),
		Role:         role,
	}
	f.mu.Lock()
	f.researchers[id] = researcher
	f.mu.Unlock()
	return researcher
}

func (f *fakeStore) GetResearcherByEmail(_ context.Context, emailAddr string) (store.Researcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, researcher := range f.researchers {
		if strings.EqualFold(researcher.Email, emailAddr) {
			return researcher, nil
		}
	}
	return store.Researcher{}, store.ErrNotFound
}

func (f *fakeStore) CreateResearcher(_ context.Context, researcher store.Researcher) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.researchers[researcher.ID] = researcher
	return nil
}

func (f *fakeStore) CountResearchers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.researchers), nil
}

func (f *fakeStore) GetResearcherByID(_ context.Context, id string) (store.Researcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	researcher, ok := f.researchers[id]
	if !ok {
		return store.Researcher{}, store.ErrNotFound
	}
	return researcher, nil
}

func (f *fakeStore) InsertSession(_ context.Context, s store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.Status = store.SessionRunning
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) SubmitResults(_ context.Context, sub store.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	existing, ok := f.sessions[sub.Session.ID]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	existing.Status = store.SessionSubmitted
	existing.Demographics = sub.Session.Demographics
	existing.Timestamps = sub.Session.Timestamps
	existing.Warnings = sub.Session.Warnings
	existing.Progress = sub.Session.Progress
	existing.Total = sub.Session.Total
	existing.RecordCount = len(sub.Records)
	existing.SubmittedAt = &now
	f.sessions[sub.Session.ID] = existing
	f.records[sub.Session.ID] = slices.Clone(sub.Records)
	f.submissions++
	return nil
}

func (f *fakeStore) MarkSessionFinished(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	existing.Status = store.SessionFinished
	existing.FinishedAt = &at
	f.sessions[id] = existing
	return nil
}

func (f *fakeStore) ListSessions(_ context.Context, status string, _ int) ([]store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Session{}
	for _, s := range f.sessions {
		if status == "" || s.Status == status {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b store.Session) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ListTrialRecords(_ context.Context, id string) ([]experiment.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.records[id]), nil
}

func (f *fakeStore) ReplaceStimulusItems(_ context.Context, kind string, items []store.StimulusItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.items[:0:0]
	for _, item := range f.items {
		if item.Kind != kind {
			kept = append(kept, item)
		}
	}
	f.items = append(kept, items...)
	return nil
}

func (f *fakeStore) ListStimulusItems(context.Context) ([]store.StimulusItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.items), nil
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeStore) submissionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions
}

type fakeSearch struct {
	mu       sync.Mutex
	queries  []search.Query
	previous []search.ItemRecord
	current  []search.ItemRecord
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{}, Query: q.Text, Engine: "postgres"}
}

func (f *fakeSearch) ReplaceItems(previous, current []search.ItemRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previous = previous
	f.current = current
}

type fakeArchive struct {
	mu          sync.Mutex
	submissions []archive.Submission
}

func (f *fakeArchive) Put(_ context.Context, sub archive.Submission) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, sub)
	csvKey, jsonKey := archive.Keys(sub.Experiment, sub.SessionID, sub.SubmittedAt)
	return []string{csvKey, jsonKey}, nil
}

type fakeMailer struct {
	mu      sync.Mutex
	to      []string
	notices []email.CompletionData
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) SendCompletionNotice(to string, data email.CompletionData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to)
	f.notices = append(f.notices, data)
	return nil
}

type testEnv struct {
	svc     *Service
	server  *HTTPServer
	store   *fakeStore
	search  *fakeSearch
	archive *fakeArchive
	mailer  *fakeMailer
	repo    *gitrepo.Service
	def     config.Experiment
}

// testExperiment runs consent, one main trial without a question, then
// sends results and shows the end screen.
func testExperiment() config.Experiment {
	def := config.DefaultExperiment()
	def.Plan = experiment.Plan{
		experiment.Literal("consent"),
		experiment.Literal("1I"),
		experiment.SendResults(),
		experiment.Literal("end"),
	}
	return def
}

func testMainRows() []experiment.Row {
	return []experiment.Row{{
		ItemID:       "7",
		Context:      "neutral",
		Condition:    "I",
		AnaphorType:  "IA",
		Anchor:       "Mann",
		Anaphor:      "Er",
		AnaphorIndex: "2",
		Stimulus:     "Der/Mann//Er/lacht.",
		Block:        "1",
		Label:        "1I",
	}}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := session.NewRedisStoreWithClient(client, time.Hour)

	def := testExperiment()
	exp, err := def.Build(nil, testMainRows())
	if err != nil {
		t.Fatalf("build experiment: %v", err)
	}

	repo := gitrepo.New(t.TempDir())
	if err := repo.Ensure("test"); err != nil {
		t.Fatalf("ensure repo: %v", err)
	}

	fs := newFakeStore()
	env := &testEnv{
		store:   fs,
		search:  &fakeSearch{},
		archive: &fakeArchive{},
		mailer:  &fakeMailer{},
		repo:    repo,
		def:     def,
	}
	cfg := config.Config{
		TokenSecret:    testSecret,
		ParticipantTTL: time.Hour,
		ResearcherTTL:  time.Hour,
		NotifyEmail:    "lab@example.org",
		DocumentsDir:   t.TempDir(),
	}
	env.svc = New(cfg, def, exp, Deps{
		Store:    fs,
		Sessions: sessions,
		Stimuli:  repo,
		Search:   env.search,
		Exporter: export.NewService(fs, time.Second),
		Archive:  env.archive,
		Mailer:   env.mailer,
	})
	env.svc.passwords = authpw.NewServiceWithCost(fs, bcrypt.MinCost)
	env.server = NewHTTPServer(env.svc, "*")
	t.Cleanup(env.svc.Wait)
	return env
}

func researcherToken(t *testing.T, id, role string) string {
	t.Helper()
	token, _, err := auth.Issue([]byte(testSecret), id, "", role, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
