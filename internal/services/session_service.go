package services

import (
	"log"
	"time"

	"github.com/opencohort/fieldlink/internal/models"
	"github.com/opencohort/fieldlink/internal/script"
)

// SessionStore abstracts persistence for an in-progress survey session.
type SessionStore interface {
	GetSurvey(id string) (*models.Survey, error)
	ListQuestions(language string) ([]models.Question, error)
	ListAnswersBySurvey(surveyID string) ([]models.Answer, error)
	UpdateAnswer(a *models.Answer) error
	SaveCompletion(s *models.Survey, answers []models.Answer) error
}

// StepStatus is the outcome of a forward/backward navigation step.
type StepStatus string

const (
	// StepAdvanced means the session landed on a new question.
	StepAdvanced StepStatus = "advanced"
	// StepInvalid means the current answer failed validation and the index
	// did not change.
	StepInvalid StepStatus = "invalid"
	// StepCompleted means the session walked past the last question.
	StepCompleted StepStatus = "completed"
	// StepAtStart means backward navigation had nowhere to go.
	StepAtStart StepStatus = "at_start"
)

// StepResult reports where a navigation step landed. Branch carries a named
// pre-script result when one was produced; it is informational only and is
// not dispatched as a jump target.
type StepResult struct {
	Status   StepStatus
	Question *models.Question
	Branch   string
}

// SessionService builds sessions and owns the completion side effects
// (coupon issuance, upload scheduling).
type SessionService struct {
	store    SessionStore
	coupons  *CouponService
	uploader Uploader
	cfg      models.FacilityConfig
	now      func() time.Time
}

func NewSessionService(store SessionStore, coupons *CouponService, uploader Uploader, cfg models.FacilityConfig) *SessionService {
	if uploader == nil {
		uploader = nopUploader{}
	}
	return &SessionService{
		store:    store,
		coupons:  coupons,
		uploader: uploader,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Resume loads the session for a survey. The question and answer lists are
// kept the same length at all times; a survey whose answer slots are missing
// is refused rather than silently mended.
func (s *SessionService) Resume(surveyID string) (*Session, error) {
	sv, err := s.store.GetSurvey(surveyID)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return nil, NewNotFoundError("survey not found")
	}
	questions, err := s.store.ListQuestions(sv.Language)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.ListAnswersBySurvey(surveyID)
	if err != nil {
		return nil, err
	}
	if len(answers) != len(questions) {
		return nil, NewInvalidError("survey answer slots do not match the question list")
	}
	idx := -1
	if sv.Completed {
		idx = len(questions)
	}
	return &Session{svc: s, survey: sv, questions: questions, answers: answers, index: idx}, nil
}

// Session walks one survey instance through its question list. It is not
// safe for concurrent use; the caller serializes access per survey.
type Session struct {
	svc       *SessionService
	survey    *models.Survey
	questions []models.Question
	answers   []models.Answer
	index     int // -1 before the first question, len(questions) once completed
}

func (ss *Session) Survey() *models.Survey { return ss.survey }

// Current returns the question at the session cursor, or nil before the
// first step and after completion.
func (ss *Session) Current() *models.Question {
	if ss.index < 0 || ss.index >= len(ss.questions) {
		return nil
	}
	return &ss.questions[ss.index]
}

func (ss *Session) Completed() bool { return ss.index >= len(ss.questions) }

// HasPrevious flips true once the cursor has moved past the first question.
func (ss *Session) HasPrevious() bool { return ss.index > 0 }

// RecordAnswer updates the answer slot for the current question and
// persists it.
func (ss *Session) RecordAnswer(numeric *float64, text *string, option *int64) error {
	q := ss.Current()
	if q == nil {
		return NewInvalidError("no active question")
	}
	a := &ss.answers[ss.index]
	a.NumericValue = numeric
	a.TextValue = text
	a.OptionIndex = option
	return ss.svc.store.UpdateAnswer(a)
}

func (ss *Session) env() map[string]any {
	return script.Context(ss.questions, ss.answers)
}

// Next validates the current answer and advances the cursor, skipping every
// question whose pre-script evaluates to skip. Walking past the last
// question completes the survey.
func (ss *Session) Next() (StepResult, error) {
	if ss.Completed() {
		return ss.complete()
	}
	if q := ss.Current(); q != nil {
		if !script.EvalValidation(q.ValidationScript, ss.env()) {
			return StepResult{Status: StepInvalid, Question: q}, nil
		}
	}
	// Skip-chaining as a bounded loop: at most the remaining question count.
	for ss.index < len(ss.questions) {
		ss.index++
		if ss.index >= len(ss.questions) {
			return ss.complete()
		}
		q := &ss.questions[ss.index]
		out := script.EvalPre(q.PreScript, ss.env())
		if out.Skip {
			continue
		}
		return StepResult{Status: StepAdvanced, Question: q, Branch: out.Branch}, nil
	}
	return ss.complete()
}

// Previous moves the cursor back to the nearest earlier question whose
// pre-script does not skip. There is no validation gate on the way back and
// the cursor never moves before the first question.
func (ss *Session) Previous() (StepResult, error) {
	if ss.index <= 0 {
		return StepResult{Status: StepAtStart, Question: ss.Current()}, nil
	}
	target := ss.index - 1
	for target >= 0 {
		q := &ss.questions[target]
		out := script.EvalPre(q.PreScript, ss.env())
		if !out.Skip {
			ss.index = target
			return StepResult{Status: StepAdvanced, Question: q, Branch: out.Branch}, nil
		}
		target--
	}
	return StepResult{Status: StepAtStart, Question: ss.Current()}, nil
}

// complete persists the finished survey and runs the completion side
// effects. It is idempotent: a second completion after a crash reuses the
// already-issued coupons and the existing upload record. A coupon issuance
// failure is logged and leaves the survey completed with no coupons.
func (ss *Session) complete() (StepResult, error) {
	ss.index = len(ss.questions)
	if !ss.survey.Completed {
		ss.survey.Completed = true
		at := ss.svc.now()
		ss.survey.EndedAt = &at
	}
	if err := ss.svc.store.SaveCompletion(ss.survey, ss.answers); err != nil {
		return StepResult{}, err
	}
	if ss.svc.coupons != nil {
		if _, err := ss.svc.coupons.EnsureIssued(ss.survey.ID, ss.svc.cfg.CouponsToIssue); err != nil {
			log.Printf("session: coupon issuance for survey %s: %v", ss.survey.ID, err)
		}
	}
	ss.svc.uploader.Enqueue(models.UploadKindSurvey, ss.survey.ID)
	return StepResult{Status: StepCompleted}, nil
}
