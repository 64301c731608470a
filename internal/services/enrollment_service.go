package services

import (
	"strings"
	"time"

	"github.com/opencohort/fieldlink/internal/models"
)

// EnrollmentStore abstracts persistence for starting a survey instance.
type EnrollmentStore interface {
	ListQuestions(language string) ([]models.Question, error)
	InsertSurvey(s *models.Survey) error
	InsertAnswers(answers []models.Answer) error
	FindCompletedSurveyBySubject(subjectID string, since time.Time) (*models.Survey, error)
}

// StartRequest carries the intake data for a new survey instance.
type StartRequest struct {
	SubjectID        string
	Language         string
	CouponCode       string // referral code entered by a recruited participant
	ConsentSignature []byte
}

// StartResult reports either a created survey or a duplicate-enrollment
// branch. Duplicate enrollment is a business outcome, not an error.
type StartResult struct {
	Survey        *models.Survey
	Duplicate     bool
	PriorSurveyID string
}

// EnrollmentService creates survey instances with their answer slots and
// redeems referral coupons at intake.
type EnrollmentService struct {
	store   EnrollmentStore
	coupons *CouponService
	cfg     models.FacilityConfig
	now     func() time.Time
	idGen   func(prefix string, n int) string
}

func NewEnrollmentService(store EnrollmentStore, coupons *CouponService, cfg models.FacilityConfig) *EnrollmentService {
	return &EnrollmentService{
		store:   store,
		coupons: coupons,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		idGen:   func(prefix string, n int) string { return prefix + shortID(n) },
	}
}

// Start creates a survey with one answer slot per question of the requested
// language. A subject with a completed survey inside the re-enrollment
// window gets a duplicate outcome instead of a new survey. When a referral
// coupon code is present it is redeemed against the new survey before the
// survey is returned.
func (s *EnrollmentService) Start(req StartRequest) (*StartResult, error) {
	subject := strings.TrimSpace(req.SubjectID)
	if subject == "" {
		return nil, NewInvalidError("subject id required")
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	if s.cfg.ReenrollWindowDays > 0 {
		since := s.now().AddDate(0, 0, -s.cfg.ReenrollWindowDays)
		prior, err := s.store.FindCompletedSurveyBySubject(subject, since)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return &StartResult{Duplicate: true, PriorSurveyID: prior.ID}, nil
		}
	}
	questions, err := s.store.ListQuestions(lang)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, NewInvalidError("no questions loaded for language " + lang)
	}
	// The referral code is checked before anything is written, so a bad
	// code never leaves an orphaned survey behind.
	code := strings.ToUpper(strings.TrimSpace(req.CouponCode))
	if code != "" && s.coupons != nil {
		c, err := s.coupons.Get(code)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, NewNotFoundError("coupon not found")
		}
		if c.Status != models.CouponUnused {
			return nil, NewConflictError("coupon already redeemed")
		}
	}
	sv := &models.Survey{
		ID:               s.idGen("s", 12),
		SubjectID:        subject,
		Language:         lang,
		StartedAt:        s.now(),
		ReferralCoupon:   code,
		ConsentSignature: req.ConsentSignature,
	}
	if err := s.store.InsertSurvey(sv); err != nil {
		return nil, err
	}
	answers := make([]models.Answer, len(questions))
	for i, q := range questions {
		answers[i] = models.Answer{
			ID:         s.idGen("a", 12),
			SurveyID:   sv.ID,
			QuestionID: q.ID,
			Position:   q.Position,
		}
	}
	if err := s.store.InsertAnswers(answers); err != nil {
		return nil, err
	}
	if sv.ReferralCoupon != "" && s.coupons != nil {
		if _, err := s.coupons.Redeem(sv.ReferralCoupon, sv.ID); err != nil {
			return nil, err
		}
	}
	return &StartResult{Survey: sv}, nil
}
