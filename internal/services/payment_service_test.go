package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opencohort/fieldlink/internal/models"
)

type stubPaymentStore struct {
	surveys    map[string]*models.Survey
	payments   []*models.PaymentRecord
	failInsert bool
}

func newStubPaymentStore() *stubPaymentStore {
	return &stubPaymentStore{surveys: map[string]*models.Survey{}}
}

func (s *stubPaymentStore) GetSurvey(id string) (*models.Survey, error) {
	sv, ok := s.surveys[id]
	if !ok {
		return nil, nil
	}
	cp := *sv
	return &cp, nil
}

func (s *stubPaymentStore) UpdateSurvey(sv *models.Survey) error {
	cp := *sv
	s.surveys[sv.ID] = &cp
	return nil
}

func (s *stubPaymentStore) InsertPayment(p *models.PaymentRecord) error {
	if s.failInsert {
		return errors.New("disk full")
	}
	cp := *p
	s.payments = append(s.payments, &cp)
	return nil
}

func TestConfirmParticipantPayment(t *testing.T) {
	store := newStubPaymentStore()
	store.surveys["s1"] = &models.Survey{ID: "s1", SubjectID: "SUBJ", Completed: true}
	cfg := models.FacilityConfig{PaymentAmount: 10, PaymentCurrency: "KES"}
	svc := NewPaymentService(store, nil, nil, cfg)

	sv, err := svc.ConfirmParticipantPayment("s1", MethodFingerprint, "")
	if err != nil {
		t.Fatalf("ConfirmParticipantPayment: %v", err)
	}
	if !sv.PaymentConfirmed || sv.PaymentAmount != 10 || sv.PaymentCurrency != "KES" {
		t.Fatalf("payment fields not stamped: %+v", sv)
	}
	if _, err := svc.ConfirmParticipantPayment("s1", MethodFingerprint, ""); err == nil {
		t.Fatalf("second confirmation must be rejected")
	}
}

func TestConfirmRequiresFingerprintWhenConfigured(t *testing.T) {
	store := newStubPaymentStore()
	store.surveys["s1"] = &models.Survey{ID: "s1"}
	svc := NewPaymentService(store, nil, nil, models.FacilityConfig{FingerprintRequired: true})
	if _, err := svc.ConfirmParticipantPayment("s1", MethodSignature, "abcd"); err == nil {
		t.Fatalf("signature confirmation must be rejected when fingerprint is required")
	}
}

func paymentFixture(t *testing.T, cfg models.FacilityConfig) (*PaymentService, *stubPaymentStore, *stubCouponStore, *recordingUploader) {
	t.Helper()
	store := newStubPaymentStore()
	store.surveys["sRecruiter"] = &models.Survey{ID: "sRecruiter", SubjectID: "RECRUITER"}
	couponStore := newStubCouponStore()
	recruit := "sRecruit"
	couponStore.surveys[recruit] = &models.Survey{ID: recruit, Completed: true, PaymentConfirmed: true}
	for _, code := range []string{"CODE0001", "CODE0002"} {
		couponStore.coupons[code] = &models.Coupon{
			Code: code, Status: models.CouponUsed,
			IssuingSurveyID: "sRecruiter", RedeemingSurveyID: &recruit,
		}
		couponStore.byIssuer["sRecruiter"] = append(couponStore.byIssuer["sRecruiter"], code)
	}
	uploader := &recordingUploader{}
	return NewPaymentService(store, NewCouponService(couponStore), uploader, cfg), store, couponStore, uploader
}

func TestRecordRecruitmentPayment(t *testing.T) {
	svc, store, couponStore, uploader := paymentFixture(t, models.FacilityConfig{PaymentAmount: 5, PaymentCurrency: "USD"})
	rec, err := svc.RecordRecruitmentPayment(RecruitmentPaymentRequest{
		SurveyID:    "sRecruiter",
		CouponCodes: []string{"code0001", "CODE0002"},
		Method:      MethodFingerprint,
		StaffID:     "u1",
	})
	if err != nil {
		t.Fatalf("RecordRecruitmentPayment: %v", err)
	}
	if rec.CouponCodes != "CODE0001,CODE0002" {
		t.Fatalf("codes must be normalized and comma-joined, got %q", rec.CouponCodes)
	}
	for _, code := range []string{"CODE0001", "CODE0002"} {
		c, _ := couponStore.GetCoupon(code)
		if !c.Paid() {
			t.Fatalf("coupon %s must be paid", code)
		}
	}
	if len(store.payments) != 1 {
		t.Fatalf("expected one payment record")
	}
	if len(uploader.enqueued) != 1 || !strings.HasPrefix(uploader.enqueued[0], "payment:") {
		t.Fatalf("payment must be enqueued for upload, got %v", uploader.enqueued)
	}
}

func TestRecruitmentPaymentIsAllOrNothing(t *testing.T) {
	svc, store, couponStore, _ := paymentFixture(t, models.FacilityConfig{})
	// Second code is already paid; nothing may be marked.
	ts := time.Now().UTC()
	couponStore.coupons["CODE0002"].PaidAt = &ts

	_, err := svc.RecordRecruitmentPayment(RecruitmentPaymentRequest{
		SurveyID:    "sRecruiter",
		CouponCodes: []string{"CODE0001", "CODE0002"},
		Method:      MethodFingerprint,
	})
	if err == nil {
		t.Fatalf("payment covering a paid coupon must be rejected")
	}
	fresh, _ := couponStore.GetCoupon("CODE0001")
	if fresh.Paid() {
		t.Fatalf("no coupon may be marked paid when the request is rejected")
	}
	if len(store.payments) != 0 {
		t.Fatalf("no payment record may be written on rejection")
	}
}

func TestRecruitmentPaymentSurvivesFailedRecordWrite(t *testing.T) {
	svc, store, couponStore, uploader := paymentFixture(t, models.FacilityConfig{})
	store.failInsert = true

	req := RecruitmentPaymentRequest{
		SurveyID:    "sRecruiter",
		CouponCodes: []string{"CODE0001", "CODE0002"},
		Method:      MethodFingerprint,
	}
	if _, err := svc.RecordRecruitmentPayment(req); err == nil {
		t.Fatalf("failed record write must surface")
	}
	// MarkPaid is terminal, so a failed write must leave every coupon
	// payment-pending and the whole action retryable.
	for _, code := range []string{"CODE0001", "CODE0002"} {
		c, _ := couponStore.GetCoupon(code)
		if c.Paid() {
			t.Fatalf("coupon %s must stay unpaid after a failed record write", code)
		}
	}
	if len(uploader.enqueued) != 0 {
		t.Fatalf("nothing may be enqueued after a failed record write")
	}

	store.failInsert = false
	rec, err := svc.RecordRecruitmentPayment(req)
	if err != nil {
		t.Fatalf("retry after failed write: %v", err)
	}
	for _, code := range []string{"CODE0001", "CODE0002"} {
		c, _ := couponStore.GetCoupon(code)
		if !c.Paid() {
			t.Fatalf("coupon %s must be paid after the retry", code)
		}
	}
	if len(store.payments) != 1 {
		t.Fatalf("expected one payment record after the retry, got %d", len(store.payments))
	}
	if len(uploader.enqueued) != 1 || uploader.enqueued[0] != "payment:"+rec.ID {
		t.Fatalf("retry must enqueue the record, got %v", uploader.enqueued)
	}
}

func TestRecruitmentPaymentRequiresAuditPhone(t *testing.T) {
	svc, _, _, _ := paymentFixture(t, models.FacilityConfig{AuditPhoneRequired: true})
	_, err := svc.RecordRecruitmentPayment(RecruitmentPaymentRequest{
		SurveyID:    "sRecruiter",
		CouponCodes: []string{"CODE0001"},
		Method:      MethodFingerprint,
	})
	if err == nil {
		t.Fatalf("missing audit phone must be rejected")
	}
}

func TestRecruitmentPaymentRejectsForeignCoupon(t *testing.T) {
	svc, _, couponStore, _ := paymentFixture(t, models.FacilityConfig{})
	couponStore.coupons["XXYY7788"] = &models.Coupon{Code: "XXYY7788", Status: models.CouponUnused, IssuingSurveyID: "someoneElse"}
	_, err := svc.RecordRecruitmentPayment(RecruitmentPaymentRequest{
		SurveyID:    "sRecruiter",
		CouponCodes: []string{"XXYY7788"},
		Method:      MethodFingerprint,
	})
	if err == nil {
		t.Fatalf("coupon from another survey must be rejected")
	}
}
