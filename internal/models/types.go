package models

import "time"

// Question is one step of a survey script. Questions are loaded once per
// language/version and shared across survey instances; they are never
// mutated after loading.
type Question struct {
	ID               string `db:"id"`
	ShortName        string `db:"short_name"` // expression-context variable key
	Text             string `db:"text"`
	PreScript        string `db:"pre_script"`        // empty means always shown
	ValidationScript string `db:"validation_script"` // empty means always valid
	Position         int    `db:"position"`
	Language         string `db:"language"`

	Options []Option `db:"-"`
}

// Option belongs to a Question; Ordinal is the coded numeric value stored
// when the option is selected.
type Option struct {
	ID         string `db:"id"`
	QuestionID string `db:"question_id"`
	Text       string `db:"text"`
	Ordinal    int    `db:"ordinal"`
}

// Answer holds the response slots for one question of one survey instance.
// One Answer exists per Question from the moment the survey is created, so
// the answer list and the question list always have the same length.
type Answer struct {
	ID           string   `db:"id"`
	SurveyID     string   `db:"survey_id"`
	QuestionID   string   `db:"question_id"`
	Position     int      `db:"position"`
	NumericValue *float64 `db:"numeric_value"`
	TextValue    *string  `db:"text_value"`
	OptionIndex  *int64   `db:"option_index"`
}

// Value returns the bound expression-context value for the answer, or nil
// when nothing has been recorded. A selected option takes precedence over a
// numeric value, which takes precedence over free text.
func (a *Answer) Value() any {
	switch {
	case a.OptionIndex != nil:
		return *a.OptionIndex
	case a.NumericValue != nil:
		return *a.NumericValue
	case a.TextValue != nil:
		return *a.TextValue
	}
	return nil
}

// Survey is the aggregate root for one participant session.
type Survey struct {
	ID               string     `db:"id"`
	SubjectID        string     `db:"subject_id"`
	Language         string     `db:"language"`
	StartedAt        time.Time  `db:"started_at"`
	EndedAt          *time.Time `db:"ended_at"`
	Completed        bool       `db:"completed"`
	ReferralCoupon   string     `db:"referral_coupon"` // code entered by a recruited participant
	PaymentConfirmed bool       `db:"payment_confirmed"`
	PaymentAmount    float64    `db:"payment_amount"`
	PaymentCurrency  string     `db:"payment_currency"`
	PaymentMethod    string     `db:"payment_method"` // "fingerprint" or "signature"
	ConsentSignature []byte     `db:"consent_signature"`
}

// Coupon lifecycle statuses. A coupon only moves forward: unused coupons can
// be redeemed, redeemed coupons can be paid, and a paid coupon is terminal.
const (
	CouponUnused = "unused"
	CouponUsed   = "used"
)

// Coupon is a referral code issued by a completed survey and redeemed by a
// recruited participant.
type Coupon struct {
	Code              string     `db:"code"`
	Status            string     `db:"status"`
	IssuingSurveyID   string     `db:"issuing_survey_id"`
	RedeemingSurveyID *string    `db:"redeeming_survey_id"`
	RedeemedAt        *time.Time `db:"redeemed_at"`
	PaidAt            *time.Time `db:"paid_at"`
	PaymentSignature  *string    `db:"payment_signature"` // hex image bytes or biometric record id
	PaymentMethod     *string    `db:"payment_method"`
}

// Paid reports whether the recruitment payment for this coupon has been
// recorded. Once true it must never be paid again.
func (c *Coupon) Paid() bool { return c.PaidAt != nil }

// Upload state statuses.
const (
	UploadPending   = "pending"
	UploadUploading = "uploading"
	UploadCompleted = "completed"
	UploadFailed    = "failed"
)

// Upload entity kinds.
const (
	UploadKindSurvey  = "survey"
	UploadKindPayment = "payment"
)

// UploadState is the persisted audit record of sync attempts for one entity.
// It is created when the entity becomes upload-eligible and never deleted.
type UploadState struct {
	ID            string     `db:"id"`
	EntityID      string     `db:"entity_id"`
	Kind          string     `db:"kind"`
	Status        string     `db:"status"`
	Attempts      int        `db:"attempts"`
	LastAttemptAt *time.Time `db:"last_attempt_at"`
	LastError     string     `db:"last_error"`
}

// PaymentRecord captures one recruitment payment covering one or more
// coupons issued by a survey.
type PaymentRecord struct {
	ID           string    `db:"id"`
	SurveyID     string    `db:"survey_id"`
	SubjectID    string    `db:"subject_id"`
	CouponCodes  string    `db:"coupon_codes"` // comma-joined on the wire
	Amount       float64   `db:"amount"`
	Currency     string    `db:"currency"`
	Method       string    `db:"method"`
	SignatureHex *string   `db:"signature_hex"`
	AuditPhone   *string   `db:"audit_phone"`
	RecordedAt   time.Time `db:"recorded_at"`
	RecordedByID string    `db:"recorded_by_id"`
}

// StaffUser authenticates against the local control API to confirm payments.
type StaffUser struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	PINHash   []byte    `db:"pin_hash"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

// FacilityConfig is the read-only configuration surface consumed by the
// engine.
type FacilityConfig struct {
	CouponsToIssue      int
	ReenrollWindowDays  int
	PaymentAmount       float64
	PaymentCurrency     string
	FingerprintRequired bool
	AuditPhoneRequired  bool
}
