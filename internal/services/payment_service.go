package services

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/opencohort/fieldlink/internal/models"
)

// PaymentStore abstracts persistence for participant and recruitment
// payments.
type PaymentStore interface {
	GetSurvey(id string) (*models.Survey, error)
	UpdateSurvey(s *models.Survey) error
	InsertPayment(p *models.PaymentRecord) error
}

// Payment confirmation methods.
const (
	MethodFingerprint = "fingerprint"
	MethodSignature   = "signature"
)

// PaymentService confirms participant payments on a survey and records
// recruitment payments covering redeemed coupons.
type PaymentService struct {
	store    PaymentStore
	coupons  *CouponService
	uploader Uploader
	cfg      models.FacilityConfig
	now      func() time.Time
	idGen    func(prefix string, n int) string
}

func NewPaymentService(store PaymentStore, coupons *CouponService, uploader Uploader, cfg models.FacilityConfig) *PaymentService {
	if uploader == nil {
		uploader = nopUploader{}
	}
	return &PaymentService{
		store:    store,
		coupons:  coupons,
		uploader: uploader,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    func(prefix string, n int) string { return prefix + shortID(n) },
	}
}

func (s *PaymentService) checkMethod(method string, signatureHex string) error {
	switch method {
	case MethodFingerprint:
	case MethodSignature:
		if s.cfg.FingerprintRequired {
			return NewInvalidError("facility requires fingerprint confirmation")
		}
		if signatureHex == "" {
			return NewInvalidError("signature required for signature confirmation")
		}
		if _, err := hex.DecodeString(signatureHex); err != nil {
			return NewInvalidError("signature must be hex encoded")
		}
	default:
		return NewInvalidError("unknown confirmation method")
	}
	return nil
}

// ConfirmParticipantPayment stamps the participant payment on a survey with
// the facility amount and currency.
func (s *PaymentService) ConfirmParticipantPayment(surveyID, method, signatureHex string) (*models.Survey, error) {
	if err := s.checkMethod(method, signatureHex); err != nil {
		return nil, err
	}
	sv, err := s.store.GetSurvey(surveyID)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return nil, NewNotFoundError("survey not found")
	}
	if sv.PaymentConfirmed {
		return nil, NewConflictError("participant payment already confirmed")
	}
	sv.PaymentConfirmed = true
	sv.PaymentAmount = s.cfg.PaymentAmount
	sv.PaymentCurrency = s.cfg.PaymentCurrency
	sv.PaymentMethod = method
	if err := s.store.UpdateSurvey(sv); err != nil {
		return nil, err
	}
	return sv, nil
}

// RecruitmentPaymentRequest covers one payment action for coupons issued by
// a recruiter's survey.
type RecruitmentPaymentRequest struct {
	SurveyID     string // issuing (recruiter's) survey
	CouponCodes  []string
	Method       string
	SignatureHex string
	AuditPhone   string
	StaffID      string
}

// RecordRecruitmentPayment writes one payment record covering the listed
// coupons, marks each coupon paid, and schedules the record for upload. All
// coupons are verified payment-pending before anything is written, so a
// rejected code never leaves a partial payment behind.
func (s *PaymentService) RecordRecruitmentPayment(req RecruitmentPaymentRequest) (*models.PaymentRecord, error) {
	if len(req.CouponCodes) == 0 {
		return nil, NewInvalidError("at least one coupon code required")
	}
	if err := s.checkMethod(req.Method, req.SignatureHex); err != nil {
		return nil, err
	}
	if s.cfg.AuditPhoneRequired && strings.TrimSpace(req.AuditPhone) == "" {
		return nil, NewInvalidError("facility requires a payment audit phone number")
	}
	sv, err := s.store.GetSurvey(req.SurveyID)
	if err != nil {
		return nil, err
	}
	if sv == nil {
		return nil, NewNotFoundError("survey not found")
	}
	for _, code := range req.CouponCodes {
		c, err := s.coupons.Get(code)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, NewNotFoundError("coupon " + code + " not found")
		}
		if c.IssuingSurveyID != sv.ID {
			return nil, NewInvalidError("coupon " + code + " was not issued by this survey")
		}
		state, err := s.coupons.DisplayState(c)
		if err != nil {
			return nil, err
		}
		if state != CouponPaymentPending {
			return nil, NewConflictError("coupon " + code + " is not payment-pending")
		}
	}
	rec := &models.PaymentRecord{
		ID:           s.idGen("p", 12),
		SurveyID:     sv.ID,
		SubjectID:    sv.SubjectID,
		CouponCodes:  strings.Join(normalizeCodes(req.CouponCodes), ","),
		Amount:       s.cfg.PaymentAmount,
		Currency:     s.cfg.PaymentCurrency,
		Method:       req.Method,
		RecordedAt:   s.now(),
		RecordedByID: req.StaffID,
	}
	if req.SignatureHex != "" {
		rec.SignatureHex = &req.SignatureHex
	}
	if phone := strings.TrimSpace(req.AuditPhone); phone != "" {
		rec.AuditPhone = &phone
	}
	// The record is written before any coupon is marked. MarkPaid is
	// terminal, so a failed insert must leave every coupon payment-pending
	// and the whole action retryable.
	if err := s.store.InsertPayment(rec); err != nil {
		return nil, err
	}
	for _, code := range req.CouponCodes {
		if _, err := s.coupons.MarkPaid(code, req.Method, req.SignatureHex); err != nil {
			return nil, err
		}
	}
	s.uploader.Enqueue(models.UploadKindPayment, rec.ID)
	return rec, nil
}

func normalizeCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, strings.ToUpper(strings.TrimSpace(c)))
	}
	return out
}
