package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/archive"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/auth"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/authpw"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/config"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/email"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/export"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/gitrepo"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/rbac"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/search"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/stimuli"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/store"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/util"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Token     string
	Subject   string
	Name      string
	Role      rbac.Role
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	authpw.ResearcherStore
	GetResearcherByID(context.Context, string) (store.Researcher, error)
	InsertSession(context.Context, store.Session) error
	SubmitResults(context.Context, store.Submission) error
	MarkSessionFinished(context.Context, string, time.Time) error
	ListSessions(context.Context, string, int) ([]store.Session, error)
	GetSession(context.Context, string) (store.Session, error)
	ListTrialRecords(context.Context, string) ([]experiment.Record, error)
	ReplaceStimulusItems(context.Context, string, []store.StimulusItem) error
	ListStimulusItems(context.Context) ([]store.StimulusItem, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	Create(context.Context, *experiment.State) error
	Load(context.Context, string) (*experiment.State, error)
	Update(context.Context, string, func(*experiment.State) error) (*experiment.State, error)
	RevokeToken(context.Context, string, time.Time) error
	IsTokenRevoked(context.Context, string) (bool, error)
	Ping(context.Context) error
}

type stimulusRepo interface {
	Commit(map[string][]byte, string, string) (gitrepo.Version, error)
	History(string, int) ([]gitrepo.Version, error)
	ReadFile(string, string) ([]byte, error)
}

type searchService interface {
	Search(search.Query) search.Response
	ReplaceItems(previous, current []search.ItemRecord)
}

type archiver interface {
	Put(context.Context, archive.Submission) ([]string, error)
}

type notifier interface {
	IsConfigured() bool
	SendCompletionNotice(string, email.CompletionData) error
}

// Deps are the collaborators of a Service. Archive and Mailer are optional.
type Deps struct {
	Store    dataStore
	Sessions sessionStore
	Stimuli  stimulusRepo
	Search   searchService
	Exporter *export.Service
	Archive  archiver
	Mailer   notifier
	Logger   *zap.Logger
}

type Service struct {
	cfg       config.Config
	def       config.Experiment
	store     dataStore
	sessions  sessionStore
	stimuli   stimulusRepo
	search    searchService
	exporter  *export.Service
	archive   archiver
	mailer    notifier
	passwords *authpw.Service
	logger    *zap.Logger
	now       func() time.Time

	mu  sync.RWMutex
	exp *experiment.Experiment

	background sync.WaitGroup
}

// New builds the service around a compiled experiment.
func New(cfg config.Config, def config.Experiment, exp *experiment.Experiment, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		def:       def,
		exp:       exp,
		store:     deps.Store,
		sessions:  deps.Sessions,
		stimuli:   deps.Stimuli,
		search:    deps.Search,
		exporter:  deps.Exporter,
		archive:   deps.Archive,
		mailer:    deps.Mailer,
		passwords: authpw.NewService(deps.Store),
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) experiment() *experiment.Experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exp
}

// Wait blocks until background notifications and uploads have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// StartSession creates a participant session, runs it to the first wait and
// returns a participant token for it.
func (s *Service) StartSession(ctx context.Context) (string, experiment.View, error) {
	exp := s.experiment()
	id := util.NewID("ses")
	state, err := exp.NewState(id, experiment.NewSource())
	if err != nil {
		return "", experiment.View{}, err
	}
	runner, err := exp.Runner(state, s.now)
	if err != nil {
		return "", experiment.View{}, err
	}
	view, err := runner.Start()
	if err != nil {
		return "", experiment.View{}, err
	}

	now := s.now()
	if err := s.store.InsertSession(ctx, store.Session{
		ID:         id,
		Experiment: s.def.Name,
		Total:      state.Total,
		StartedAt:  now,
	}); err != nil {
		return "", experiment.View{}, err
	}
	if state.ResultsReady {
		if err := s.submit(ctx, state); err != nil {
			return "", experiment.View{}, err
		}
	}
	if err := s.sessions.Create(ctx, state); err != nil {
		return "", experiment.View{}, err
	}

	token, _, err := auth.Issue([]byte(s.cfg.TokenSecret), id, "", string(rbac.RoleParticipant), s.cfg.ParticipantTTL, now)
	if err != nil {
		return "", experiment.View{}, err
	}
	s.logger.Info("session started", zap.String("session_id", id), zap.Int("total", state.Total))
	return token, view, nil
}

func (s *Service) CurrentView(ctx context.Context, sessionID string) (experiment.View, error) {
	state, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return experiment.View{}, err
	}
	runner, err := s.experiment().Runner(state, s.now)
	if err != nil {
		return experiment.View{}, err
	}
	return runner.View(), nil
}

// Advance applies one participant event. A rejected event leaves the stored
// state untouched and returns the unchanged view with the error. Results are
// written to Postgres inside the update the moment sendResults is crossed,
// so a failed write is retried with the next event.
func (s *Service) Advance(ctx context.Context, sessionID string, ev experiment.Event) (experiment.View, error) {
	exp := s.experiment()
	var (
		view         experiment.View
		crossed      bool
		justFinished bool
	)
	_, err := s.sessions.Update(ctx, sessionID, func(state *experiment.State) error {
		wasReady, wasFinished := state.ResultsReady, state.Finished
		runner, err := exp.Runner(state, s.now)
		if err != nil {
			return err
		}
		before := runner.View()
		var advanceErr error
		view, advanceErr = runner.Advance(ev)
		if advanceErr != nil {
			return advanceErr
		}
		crossed = !wasReady && state.ResultsReady
		justFinished = !wasFinished && state.Finished
		if crossed {
			if err := s.submit(ctx, state); err != nil {
				view = before
				return err
			}
		}
		return nil
	})
	if err != nil {
		return view, err
	}

	if crossed {
		s.afterSubmit(sessionID)
	}
	if justFinished {
		if err := s.store.MarkSessionFinished(ctx, sessionID, s.now()); err != nil {
			s.logger.Warn("mark session finished", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return view, nil
}

func (s *Service) submit(ctx context.Context, state *experiment.State) error {
	records := state.Log.Records()
	err := s.store.SubmitResults(ctx, store.Submission{
		Session: store.Session{
			ID:           state.SessionID,
			Experiment:   s.def.Name,
			Demographics: state.Demographics,
			Timestamps:   state.Timestamps,
			Warnings:     state.Warnings,
			Progress:     state.Log.Progress.Value(),
			Total:        state.Total,
		},
		Records: records,
	})
	if err != nil {
		return fmt.Errorf("submit results: %w", err)
	}
	s.logger.Info("results submitted", zap.String("session_id", state.SessionID), zap.Int("records", len(records)))
	return nil
}

// afterSubmit archives the submitted results and notifies the lab. Failures
// are logged only.
func (s *Service) afterSubmit(sessionID string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		data, err := s.exporter.Load(ctx, sessionID)
		if err != nil {
			s.logger.Warn("load submitted session", zap.String("session_id", sessionID), zap.Error(err))
			return
		}

		if s.archive != nil {
			csvBody, csvErr := export.WriteCSV(data, true)
			jsonBody, jsonErr := export.EncodeJSON(data)
			if err := errors.Join(csvErr, jsonErr); err != nil {
				s.logger.Warn("render archive", zap.String("session_id", sessionID), zap.Error(err))
			} else {
				submittedAt := s.now()
				if data.SubmittedAt != nil {
					submittedAt = *data.SubmittedAt
				}
				keys, err := s.archive.Put(ctx, archive.Submission{
					SessionID:   sessionID,
					Experiment:  data.Experiment,
					SubmittedAt: submittedAt,
					CSV:         csvBody,
					JSON:        jsonBody,
				})
				if err != nil {
					s.logger.Warn("archive results", zap.String("session_id", sessionID), zap.Error(err))
				} else {
					s.logger.Info("results archived", zap.String("session_id", sessionID), zap.Strings("keys", keys))
				}
			}
		}

		if s.mailer != nil && s.mailer.IsConfigured() && s.cfg.NotifyEmail != "" {
			notice := email.CompletionData{
				Experiment: data.Experiment,
				SessionID:  sessionID,
				Records:    len(data.Records),
				Progress:   data.Progress,
				Total:      data.Total,
			}
			if data.SubmittedAt != nil {
				notice.SubmittedAt = *data.SubmittedAt
			}
			if err := s.mailer.SendCompletionNotice(s.cfg.NotifyEmail, notice); err != nil {
				s.logger.Warn("send completion notice", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}()
}

// Authenticate resolves a bearer token to a principal. Researcher tokens
// must not be revoked and must belong to an active account.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Principal{}, err
	}
	principal := Principal{
		Token:     token,
		Subject:   claims.Sub,
		Name:      claims.Name,
		Role:      rbac.Normalize(claims.Role),
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}
	if principal.Role == rbac.RoleParticipant {
		return principal, nil
	}

	revoked, err := s.sessions.IsTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Principal{}, err
	}
	if revoked {
		return Principal{}, auth.ErrInvalidToken
	}
	researcher, err := s.store.GetResearcherByID(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return Principal{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Principal{}, err
	}
	if researcher.DeactivatedAt != nil {
		return Principal{}, authpw.ErrDeactivated
	}
	principal.Name = researcher.DisplayName
	principal.Role = rbac.Normalize(researcher.Role)
	return principal, nil
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (string, store.Researcher, error) {
	if strings.TrimSpace(emailAddr) == "" || password == "" {
		return "", store.Researcher{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "email and password are required", nil)
	}
	researcher, err := s.passwords.SignIn(ctx, emailAddr, password)
	if err != nil {
		return "", store.Researcher{}, err
	}
	token, _, err := auth.Issue([]byte(s.cfg.TokenSecret), researcher.ID, researcher.DisplayName, researcher.Role, s.cfg.ResearcherTTL, s.now())
	if err != nil {
		return "", store.Researcher{}, err
	}
	return token, researcher, nil
}

func (s *Service) SignOut(ctx context.Context, principal Principal) error {
	if principal.JTI == "" || principal.Role == rbac.RoleParticipant {
		return nil
	}
	return s.sessions.RevokeToken(ctx, principal.JTI, principal.ExpiresAt)
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) ListResults(ctx context.Context, status string, limit int) ([]store.Session, error) {
	switch status {
	case "", store.SessionRunning, store.SessionSubmitted, store.SessionFinished:
	default:
		return nil, domainError(http.StatusBadRequest, "INVALID_STATUS", "Unknown session status", map[string]any{"status": status})
	}
	return s.store.ListSessions(ctx, status, limit)
}

func (s *Service) GetResult(ctx context.Context, sessionID string) (store.Session, []experiment.Record, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.Session{}, nil, err
	}
	records, err := s.store.ListTrialRecords(ctx, sessionID)
	if err != nil {
		return store.Session{}, nil, err
	}
	return session, records, nil
}

func (s *Service) ExportResult(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.exporter.Export(ctx, req)
}

func (s *Service) SearchStimuli(q search.Query) search.Response {
	return s.search.Search(q)
}

func (s *Service) StimulusHistory(file string, limit int) ([]gitrepo.Version, error) {
	if file != "" && file != s.def.PracticeFile && file != s.def.MainFile {
		return nil, domainError(http.StatusBadRequest, "UNKNOWN_FILE", "Unknown stimulus file", map[string]any{"file": file})
	}
	return s.stimuli.History(file, limit)
}

// UploadStimuliInput carries new CSV contents. An empty table keeps the
// current version of that file.
type UploadStimuliInput struct {
	PracticeCSV string `json:"practiceCsv"`
	MainCSV     string `json:"mainCsv"`
	Message     string `json:"message"`
}

// UploadStimuli validates new tables by compiling the experiment against
// them, commits them and swaps the running definition. Sessions already
// started keep the trials they realized.
func (s *Service) UploadStimuli(ctx context.Context, principal Principal, input UploadStimuliInput) (gitrepo.Version, error) {
	if strings.TrimSpace(input.PracticeCSV) == "" && strings.TrimSpace(input.MainCSV) == "" {
		return gitrepo.Version{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "practiceCsv or mainCsv is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	files := map[string][]byte{}
	if strings.TrimSpace(input.PracticeCSV) != "" {
		files[s.def.PracticeFile] = []byte(input.PracticeCSV)
	}
	if strings.TrimSpace(input.MainCSV) != "" {
		files[s.def.MainFile] = []byte(input.MainCSV)
	}

	practice, err := s.tableRows(files, s.def.PracticeFile, experiment.KindPractice)
	if err != nil {
		return gitrepo.Version{}, err
	}
	main, err := s.tableRows(files, s.def.MainFile, experiment.KindMain)
	if err != nil {
		return gitrepo.Version{}, err
	}
	exp, err := s.def.Build(practice, main)
	if err != nil {
		return gitrepo.Version{}, err
	}

	message := strings.TrimSpace(input.Message)
	if message == "" {
		message = "Update stimulus tables"
	}
	version, err := s.stimuli.Commit(files, principal.Name, message)
	if err != nil {
		return gitrepo.Version{}, fmt.Errorf("commit stimuli: %w", err)
	}

	previous, err := s.store.ListStimulusItems(ctx)
	if err != nil {
		return gitrepo.Version{}, err
	}
	if err := s.storeItems(ctx, version.Hash, practice, main); err != nil {
		return gitrepo.Version{}, err
	}
	current, err := s.store.ListStimulusItems(ctx)
	if err != nil {
		return gitrepo.Version{}, err
	}
	s.search.ReplaceItems(search.RecordsFromItems(previous), search.RecordsFromItems(current))

	s.exp = exp
	s.logger.Info("stimuli updated", zap.String("version", version.Hash), zap.String("author", principal.Name),
		zap.Int("practice_rows", len(practice)), zap.Int("main_rows", len(main)))
	return version, nil
}

// tableRows parses the uploaded table, or the committed one when the upload
// leaves that file out.
func (s *Service) tableRows(files map[string][]byte, name string, kind experiment.Kind) ([]experiment.Row, error) {
	body, ok := files[name]
	if !ok {
		var err error
		body, err = s.headFile(name)
		if err != nil {
			return nil, err
		}
	}
	rows, err := stimuli.ReadRows(bytes.NewReader(body), kind)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_TABLE", fmt.Sprintf("%s: %v", name, err), map[string]any{"file": name})
	}
	return rows, nil
}

func (s *Service) headFile(name string) ([]byte, error) {
	body, err := s.stimuli.ReadFile(name, "")
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "MISSING_TABLE", fmt.Sprintf("%s has no committed version", name), map[string]any{"file": name})
	}
	return body, nil
}

func (s *Service) storeItems(ctx context.Context, version string, practice, main []experiment.Row) error {
	for _, table := range []struct {
		kind experiment.Kind
		rows []experiment.Row
	}{
		{experiment.KindPractice, practice},
		{experiment.KindMain, main},
	} {
		items := make([]store.StimulusItem, 0, len(table.rows))
		for _, row := range table.rows {
			items = append(items, store.StimulusItemFromRow(table.kind, version, row))
		}
		if err := s.store.ReplaceStimulusItems(ctx, string(table.kind), items); err != nil {
			return err
		}
	}
	return nil
}

// SyncStimulusIndex stores the given tables as the current stimulus items
// and refreshes the search index. It runs at startup.
func (s *Service) SyncStimulusIndex(ctx context.Context, version string, practice, main []experiment.Row) error {
	previous, err := s.store.ListStimulusItems(ctx)
	if err != nil {
		return err
	}
	if err := s.storeItems(ctx, version, practice, main); err != nil {
		return err
	}
	current, err := s.store.ListStimulusItems(ctx)
	if err != nil {
		return err
	}
	s.search.ReplaceItems(search.RecordsFromItems(previous), search.RecordsFromItems(current))
	return nil
}
