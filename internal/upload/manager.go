package upload

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencohort/fieldlink/internal/models"
	"github.com/opencohort/fieldlink/internal/workerpool"
)

// Store abstracts the persistence the sync manager needs: upload state
// records plus read access to the entities being serialized.
type Store interface {
	GetUploadState(id string) (*models.UploadState, error)
	GetUploadStateByEntity(kind, entityID string) (*models.UploadState, error)
	InsertUploadState(st *models.UploadState) error
	UpdateUploadState(st *models.UploadState) error
	ListRetryableUploadStates() ([]models.UploadState, error)

	GetSurvey(id string) (*models.Survey, error)
	ListQuestions(language string) ([]models.Question, error)
	ListAnswersBySurvey(surveyID string) ([]models.Answer, error)
	GetPayment(id string) (*models.PaymentRecord, error)
}

// Sender is the remote API surface the manager uploads through.
type Sender interface {
	SendSurvey(ctx context.Context, p *SurveyPayload) error
	SendPayment(ctx context.Context, p *PaymentPayload) error
}

// Submitter runs fire-and-forget background jobs.
type Submitter interface {
	Submit(task workerpool.Task)
}

// ErrInFlight is returned when an upload attempt for the same state is
// already running. The caller treats it as "nothing to do": the running
// attempt will record the outcome.
var ErrInFlight = errors.New("upload already in flight")

// Manager drives the upload lifecycle for completed surveys and recruitment
// payments: it owns the persisted upload state records, serializes at most
// one attempt per entity, and retries pending and failed records.
type Manager struct {
	store  Store
	sender Sender
	pool   Submitter
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewManager(store Store, sender Sender, pool Submitter) *Manager {
	return &Manager{
		store:    store,
		sender:   sender,
		pool:     pool,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: map[string]struct{}{},
	}
}

func (m *Manager) acquire(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[id]; busy {
		return false
	}
	m.inflight[id] = struct{}{}
	return true
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

// Enqueue makes sure an upload state exists for the entity and schedules an
// immediate background attempt. Calling it again for the same entity is a
// no-op: the existing record keeps its history and completed entities are
// never re-sent.
func (m *Manager) Enqueue(kind, entityID string) {
	st, err := m.store.GetUploadStateByEntity(kind, entityID)
	if err != nil {
		log.Printf("upload: lookup state for %s %s: %v", kind, entityID, err)
		return
	}
	if st == nil {
		st = &models.UploadState{
			ID:       "up" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
			EntityID: entityID,
			Kind:     kind,
			Status:   models.UploadPending,
		}
		if err := m.store.InsertUploadState(st); err != nil {
			log.Printf("upload: create state for %s %s: %v", kind, entityID, err)
			return
		}
	}
	if st.Status == models.UploadCompleted {
		return
	}
	id := st.ID
	attempt := func(ctx context.Context) {
		if err := m.Upload(ctx, id); err != nil && !errors.Is(err, ErrInFlight) {
			log.Printf("upload: %s: %v", id, err)
		}
	}
	if m.pool != nil {
		m.pool.Submit(attempt)
		return
	}
	go attempt(context.Background())
}

// Upload runs one attempt for the given upload state. Per-state attempts
// are single-flight: a second concurrent call returns ErrInFlight without
// touching the record. A completed record is an idempotent no-op success,
// so a retry racing a late success acknowledgement cannot double-submit.
func (m *Manager) Upload(ctx context.Context, stateID string) error {
	if !m.acquire(stateID) {
		return ErrInFlight
	}
	defer m.release(stateID)

	st, err := m.store.GetUploadState(stateID)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("upload state %s not found", stateID)
	}
	if st.Status == models.UploadCompleted {
		return nil
	}

	at := m.now()
	st.Status = models.UploadUploading
	st.Attempts++
	st.LastAttemptAt = &at
	if err := m.store.UpdateUploadState(st); err != nil {
		return err
	}

	sendErr := m.send(ctx, st)
	if sendErr == nil {
		st.Status = models.UploadCompleted
		st.LastError = ""
	} else {
		st.Status = models.UploadFailed
		st.LastError = failureMessage(sendErr)
	}
	if err := m.store.UpdateUploadState(st); err != nil {
		return err
	}
	return sendErr
}

func (m *Manager) send(ctx context.Context, st *models.UploadState) error {
	switch st.Kind {
	case models.UploadKindSurvey:
		sv, err := m.store.GetSurvey(st.EntityID)
		if err != nil {
			return err
		}
		if sv == nil {
			return fmt.Errorf("survey %s not found", st.EntityID)
		}
		questions, err := m.store.ListQuestions(sv.Language)
		if err != nil {
			return err
		}
		answers, err := m.store.ListAnswersBySurvey(sv.ID)
		if err != nil {
			return err
		}
		return m.sender.SendSurvey(ctx, BuildSurveyPayload(sv, questions, answers))
	case models.UploadKindPayment:
		rec, err := m.store.GetPayment(st.EntityID)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("payment %s not found", st.EntityID)
		}
		return m.sender.SendPayment(ctx, BuildPaymentPayload(rec))
	default:
		return fmt.Errorf("unknown upload kind %q", st.Kind)
	}
}

func failureMessage(err error) string {
	if ue, ok := AsUploadError(err); ok {
		return ue.Message
	}
	return err.Error()
}

// RetryResult pairs an upload state id with the outcome of one retry.
type RetryResult struct {
	StateID  string
	EntityID string
	Kind     string
	Err      error
}

// RetryPending re-attempts every upload state that is pending or failed and
// reports the per-record outcomes. In-flight records are skipped.
func (m *Manager) RetryPending(ctx context.Context) ([]RetryResult, error) {
	states, err := m.store.ListRetryableUploadStates()
	if err != nil {
		return nil, err
	}
	results := make([]RetryResult, 0, len(states))
	for i := range states {
		st := &states[i]
		err := m.Upload(ctx, st.ID)
		if errors.Is(err, ErrInFlight) {
			continue
		}
		results = append(results, RetryResult{StateID: st.ID, EntityID: st.EntityID, Kind: st.Kind, Err: err})
	}
	return results, nil
}
