package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/opencohort/fieldlink/internal/models"
)

// CouponStore abstracts persistence for the referral coupon lifecycle.
type CouponStore interface {
	ListCouponsByIssuer(surveyID string) ([]models.Coupon, error)
	GetCoupon(code string) (*models.Coupon, error)
	CouponExists(code string) (bool, error)
	InsertCoupon(c *models.Coupon) error
	UpdateCoupon(c *models.Coupon) error
	GetSurvey(id string) (*models.Survey, error)
}

// CouponDisplayState is the mutually exclusive payment-screen state of one
// issued coupon. Only PaymentPending accepts a payment action.
type CouponDisplayState string

const (
	CouponNotRedeemed        CouponDisplayState = "not_redeemed"
	CouponRedeemedIneligible CouponDisplayState = "redeemed_ineligible"
	CouponPaymentPending     CouponDisplayState = "payment_pending"
	CouponPaid               CouponDisplayState = "paid"
)

const couponCodeLen = 8

type CouponService struct {
	store   CouponStore
	now     func() time.Time
	codeGen func() string
}

func NewCouponService(store CouponStore) *CouponService {
	return &CouponService{
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
		codeGen: func() string { return strings.ToUpper(shortID(couponCodeLen)) },
	}
}

// EnsureIssued makes sure the survey has its referral coupons. When coupons
// already exist they are returned as-is, so completing a survey a second
// time (crash recovery) never issues duplicates.
func (s *CouponService) EnsureIssued(surveyID string, count int) ([]models.Coupon, error) {
	existing, err := s.store.ListCouponsByIssuer(surveyID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}
	issued := make([]models.Coupon, 0, count)
	for i := 0; i < count; i++ {
		code, err := s.uniqueCode()
		if err != nil {
			return nil, err
		}
		c := models.Coupon{Code: code, Status: models.CouponUnused, IssuingSurveyID: surveyID}
		if err := s.store.InsertCoupon(&c); err != nil {
			return nil, err
		}
		issued = append(issued, c)
	}
	return issued, nil
}

func (s *CouponService) uniqueCode() (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code := s.codeGen()
		exists, err := s.store.CouponExists(code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("coupon code space exhausted after 10 attempts")
}

// Get looks up a coupon by code.
func (s *CouponService) Get(code string) (*models.Coupon, error) {
	return s.store.GetCoupon(strings.ToUpper(strings.TrimSpace(code)))
}

// Redeem marks an unused coupon as used by the given survey. Used and paid
// coupons are rejected; the lifecycle only moves forward.
func (s *CouponService) Redeem(code, redeemingSurveyID string) (*models.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, NewInvalidError("coupon code required")
	}
	c, err := s.store.GetCoupon(code)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, NewNotFoundError("coupon not found")
	}
	if c.Status != models.CouponUnused {
		return nil, NewConflictError("coupon already redeemed")
	}
	at := s.now()
	c.Status = models.CouponUsed
	c.RedeemingSurveyID = &redeemingSurveyID
	c.RedeemedAt = &at
	if err := s.store.UpdateCoupon(c); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkPaid records the recruitment payment on a coupon. The coupon must be
// in the payment-pending display state; a coupon whose paid timestamp is
// already set is terminal and the second attempt is rejected.
func (s *CouponService) MarkPaid(code, method, signature string) (*models.Coupon, error) {
	c, err := s.store.GetCoupon(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, NewNotFoundError("coupon not found")
	}
	if c.Paid() {
		return nil, NewConflictError("coupon already paid")
	}
	state, err := s.DisplayState(c)
	if err != nil {
		return nil, err
	}
	if state != CouponPaymentPending {
		return nil, NewConflictError("coupon is not eligible for payment")
	}
	at := s.now()
	c.PaidAt = &at
	c.PaymentMethod = &method
	if signature != "" {
		c.PaymentSignature = &signature
	}
	if err := s.store.UpdateCoupon(c); err != nil {
		return nil, err
	}
	return c, nil
}

// DisplayState computes the payment-screen state for a coupon. A redeemed
// coupon is payment-pending only once the redeeming survey is completed
// with its participant payment confirmed.
func (s *CouponService) DisplayState(c *models.Coupon) (CouponDisplayState, error) {
	if c.Paid() {
		return CouponPaid, nil
	}
	if c.Status == models.CouponUnused || c.RedeemingSurveyID == nil {
		return CouponNotRedeemed, nil
	}
	redeeming, err := s.store.GetSurvey(*c.RedeemingSurveyID)
	if err != nil {
		return "", err
	}
	if redeeming == nil || !redeeming.Completed || !redeeming.PaymentConfirmed {
		return CouponRedeemedIneligible, nil
	}
	return CouponPaymentPending, nil
}

// CouponView pairs a coupon with its computed display state for the payment
// screen.
type CouponView struct {
	Coupon models.Coupon
	State  CouponDisplayState
}

// ListForPayment returns every coupon issued by a survey with its display
// state.
func (s *CouponService) ListForPayment(surveyID string) ([]CouponView, error) {
	coupons, err := s.store.ListCouponsByIssuer(surveyID)
	if err != nil {
		return nil, err
	}
	views := make([]CouponView, 0, len(coupons))
	for i := range coupons {
		state, err := s.DisplayState(&coupons[i])
		if err != nil {
			return nil, err
		}
		views = append(views, CouponView{Coupon: coupons[i], State: state})
	}
	return views, nil
}
