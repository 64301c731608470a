package upload

import (
	"encoding/hex"
	"time"

	"github.com/opencohort/fieldlink/internal/models"
)

// SurveyPayload is the wire form of a completed survey.
type SurveyPayload struct {
	SubjectID        string          `json:"subject_id"`
	Language         string          `json:"language"`
	StartedAt        time.Time       `json:"started_at"`
	EndedAt          *time.Time      `json:"ended_at,omitempty"`
	Completed        bool            `json:"completed"`
	Answers          []AnswerPayload `json:"answers"`
	CouponCode       string          `json:"coupon_code,omitempty"`
	PaymentConfirmed bool            `json:"payment_confirmed"`
	PaymentAmount    float64         `json:"payment_amount,omitempty"`
	PaymentCurrency  string          `json:"payment_currency,omitempty"`
	PaymentMethod    string          `json:"payment_method,omitempty"`
	ConsentSignature string          `json:"consent_signature,omitempty"` // hex-encoded image bytes
}

// AnswerPayload is one answer on the wire, keyed by the question short name.
type AnswerPayload struct {
	Question     string   `json:"question"`
	NumericValue *float64 `json:"numeric_value,omitempty"`
	TextValue    *string  `json:"text_value,omitempty"`
	OptionIndex  *int64   `json:"option_index,omitempty"`
}

// PaymentPayload is the wire form of a recruitment payment.
type PaymentPayload struct {
	PaymentID    string  `json:"payment_id"`
	SurveyID     string  `json:"survey_id"`
	SubjectID    string  `json:"subject_id"`
	CouponCodes  string  `json:"coupon_codes"` // comma-joined
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Method       string  `json:"confirmation_method"`
	AuditPhone   string  `json:"audit_phone,omitempty"`
	SignatureHex string  `json:"signature_hex,omitempty"`
}

// BuildSurveyPayload serializes a survey with its answers. Questions and
// answers are positional pairs of the same length.
func BuildSurveyPayload(sv *models.Survey, questions []models.Question, answers []models.Answer) *SurveyPayload {
	p := &SurveyPayload{
		SubjectID:        sv.SubjectID,
		Language:         sv.Language,
		StartedAt:        sv.StartedAt,
		EndedAt:          sv.EndedAt,
		Completed:        sv.Completed,
		CouponCode:       sv.ReferralCoupon,
		PaymentConfirmed: sv.PaymentConfirmed,
		PaymentAmount:    sv.PaymentAmount,
		PaymentCurrency:  sv.PaymentCurrency,
		PaymentMethod:    sv.PaymentMethod,
	}
	if len(sv.ConsentSignature) > 0 {
		p.ConsentSignature = hex.EncodeToString(sv.ConsentSignature)
	}
	p.Answers = make([]AnswerPayload, 0, len(answers))
	for i := range answers {
		if i >= len(questions) {
			break
		}
		p.Answers = append(p.Answers, AnswerPayload{
			Question:     questions[i].ShortName,
			NumericValue: answers[i].NumericValue,
			TextValue:    answers[i].TextValue,
			OptionIndex:  answers[i].OptionIndex,
		})
	}
	return p
}

// BuildPaymentPayload serializes a recruitment payment record.
func BuildPaymentPayload(rec *models.PaymentRecord) *PaymentPayload {
	p := &PaymentPayload{
		PaymentID:   rec.ID,
		SurveyID:    rec.SurveyID,
		SubjectID:   rec.SubjectID,
		CouponCodes: rec.CouponCodes,
		Amount:      rec.Amount,
		Currency:    rec.Currency,
		Method:      rec.Method,
	}
	if rec.AuditPhone != nil {
		p.AuditPhone = *rec.AuditPhone
	}
	if rec.SignatureHex != nil {
		p.SignatureHex = *rec.SignatureHex
	}
	return p
}
