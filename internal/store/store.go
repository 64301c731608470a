// Package store persists the engine's state in the on-device sqlite
// database. Access is by primary key and simple filters only; the services
// own all business rules.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/opencohort/fieldlink/internal/models"
)

type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the sqlite database at path and applies the
// standard pragmas.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, err
	}
	return New(db)
}

func New(db *sqlx.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *sqlx.DB { return s.db }

// --- questions ---

// ListQuestions returns the ordered question list for a language, with
// options attached.
func (s *Store) ListQuestions(language string) ([]models.Question, error) {
	var questions []models.Question
	err := s.db.Select(&questions,
		`SELECT * FROM questions WHERE language = ? ORDER BY position`, language)
	if err != nil {
		return nil, err
	}
	for i := range questions {
		var opts []models.Option
		err := s.db.Select(&opts,
			`SELECT * FROM options WHERE question_id = ? ORDER BY ordinal`, questions[i].ID)
		if err != nil {
			return nil, err
		}
		questions[i].Options = opts
	}
	return questions, nil
}

// ReplaceQuestions loads a questionnaire, replacing any previous questions
// for the same language.
func (s *Store) ReplaceQuestions(language string, questions []models.Question) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(
		`DELETE FROM options WHERE question_id IN (SELECT id FROM questions WHERE language = ?)`,
		language); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM questions WHERE language = ?`, language); err != nil {
		return err
	}
	for i := range questions {
		q := &questions[i]
		q.Language = language
		if _, err := tx.NamedExec(`INSERT INTO questions
			(id, short_name, text, pre_script, validation_script, position, language)
			VALUES (:id, :short_name, :text, :pre_script, :validation_script, :position, :language)`, q); err != nil {
			return err
		}
		for j := range q.Options {
			o := &q.Options[j]
			o.QuestionID = q.ID
			if _, err := tx.NamedExec(`INSERT INTO options (id, question_id, text, ordinal)
				VALUES (:id, :question_id, :text, :ordinal)`, o); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// --- surveys ---

func (s *Store) InsertSurvey(sv *models.Survey) error {
	_, err := s.db.NamedExec(`INSERT INTO surveys
		(id, subject_id, language, started_at, ended_at, completed, referral_coupon,
		 payment_confirmed, payment_amount, payment_currency, payment_method, consent_signature)
		VALUES (:id, :subject_id, :language, :started_at, :ended_at, :completed, :referral_coupon,
		 :payment_confirmed, :payment_amount, :payment_currency, :payment_method, :consent_signature)`, sv)
	return err
}

func (s *Store) GetSurvey(id string) (*models.Survey, error) {
	var sv models.Survey
	err := s.db.Get(&sv, `SELECT * FROM surveys WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sv, nil
}

func (s *Store) UpdateSurvey(sv *models.Survey) error {
	_, err := s.db.NamedExec(`UPDATE surveys SET
		subject_id = :subject_id, language = :language, started_at = :started_at,
		ended_at = :ended_at, completed = :completed, referral_coupon = :referral_coupon,
		payment_confirmed = :payment_confirmed, payment_amount = :payment_amount,
		payment_currency = :payment_currency, payment_method = :payment_method,
		consent_signature = :consent_signature
		WHERE id = :id`, sv)
	return err
}

// FindCompletedSurveyBySubject returns the most recent completed survey for
// a subject ended at or after the given time, used for the re-enrollment
// window check.
func (s *Store) FindCompletedSurveyBySubject(subjectID string, since time.Time) (*models.Survey, error) {
	var sv models.Survey
	err := s.db.Get(&sv, `SELECT * FROM surveys
		WHERE subject_id = ? AND completed = 1 AND ended_at >= ?
		ORDER BY ended_at DESC LIMIT 1`, subjectID, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sv, nil
}

// SaveCompletion persists a finished survey together with its answers in
// one transaction.
func (s *Store) SaveCompletion(sv *models.Survey, answers []models.Answer) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.NamedExec(`UPDATE surveys SET
		ended_at = :ended_at, completed = :completed, payment_confirmed = :payment_confirmed,
		payment_amount = :payment_amount, payment_currency = :payment_currency,
		payment_method = :payment_method, consent_signature = :consent_signature
		WHERE id = :id`, sv); err != nil {
		return err
	}
	for i := range answers {
		if _, err := tx.NamedExec(`UPDATE answers SET
			numeric_value = :numeric_value, text_value = :text_value, option_index = :option_index
			WHERE id = :id`, &answers[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- answers ---

func (s *Store) InsertAnswers(answers []models.Answer) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for i := range answers {
		if _, err := tx.NamedExec(`INSERT INTO answers
			(id, survey_id, question_id, position, numeric_value, text_value, option_index)
			VALUES (:id, :survey_id, :question_id, :position, :numeric_value, :text_value, :option_index)`,
			&answers[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListAnswersBySurvey(surveyID string) ([]models.Answer, error) {
	var answers []models.Answer
	err := s.db.Select(&answers,
		`SELECT * FROM answers WHERE survey_id = ? ORDER BY position`, surveyID)
	return answers, err
}

func (s *Store) UpdateAnswer(a *models.Answer) error {
	_, err := s.db.NamedExec(`UPDATE answers SET
		numeric_value = :numeric_value, text_value = :text_value, option_index = :option_index
		WHERE id = :id`, a)
	return err
}

// --- coupons ---

func (s *Store) ListCouponsByIssuer(surveyID string) ([]models.Coupon, error) {
	var coupons []models.Coupon
	err := s.db.Select(&coupons,
		`SELECT * FROM coupons WHERE issuing_survey_id = ? ORDER BY code`, surveyID)
	return coupons, err
}

func (s *Store) GetCoupon(code string) (*models.Coupon, error) {
	var c models.Coupon
	err := s.db.Get(&c, `SELECT * FROM coupons WHERE code = ?`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CouponExists(code string) (bool, error) {
	var n int
	if err := s.db.Get(&n, `SELECT COUNT(*) FROM coupons WHERE code = ?`, code); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) InsertCoupon(c *models.Coupon) error {
	_, err := s.db.NamedExec(`INSERT INTO coupons
		(code, status, issuing_survey_id, redeeming_survey_id, redeemed_at, paid_at, payment_signature, payment_method)
		VALUES (:code, :status, :issuing_survey_id, :redeeming_survey_id, :redeemed_at, :paid_at, :payment_signature, :payment_method)`, c)
	return err
}

func (s *Store) UpdateCoupon(c *models.Coupon) error {
	_, err := s.db.NamedExec(`UPDATE coupons SET
		status = :status, redeeming_survey_id = :redeeming_survey_id, redeemed_at = :redeemed_at,
		paid_at = :paid_at, payment_signature = :payment_signature, payment_method = :payment_method
		WHERE code = :code`, c)
	return err
}

// --- upload states ---

func (s *Store) GetUploadState(id string) (*models.UploadState, error) {
	var st models.UploadState
	err := s.db.Get(&st, `SELECT * FROM upload_states WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) GetUploadStateByEntity(kind, entityID string) (*models.UploadState, error) {
	var st models.UploadState
	err := s.db.Get(&st, `SELECT * FROM upload_states WHERE kind = ? AND entity_id = ?`, kind, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) InsertUploadState(st *models.UploadState) error {
	_, err := s.db.NamedExec(`INSERT INTO upload_states
		(id, entity_id, kind, status, attempts, last_attempt_at, last_error)
		VALUES (:id, :entity_id, :kind, :status, :attempts, :last_attempt_at, :last_error)`, st)
	return err
}

func (s *Store) UpdateUploadState(st *models.UploadState) error {
	_, err := s.db.NamedExec(`UPDATE upload_states SET
		status = :status, attempts = :attempts, last_attempt_at = :last_attempt_at, last_error = :last_error
		WHERE id = :id`, st)
	return err
}

func (s *Store) ListRetryableUploadStates() ([]models.UploadState, error) {
	var states []models.UploadState
	err := s.db.Select(&states,
		`SELECT * FROM upload_states WHERE status IN ('pending', 'failed') ORDER BY id`)
	return states, err
}

// ListUploadStates returns every upload state for the sync status screen.
func (s *Store) ListUploadStates() ([]models.UploadState, error) {
	var states []models.UploadState
	err := s.db.Select(&states, `SELECT * FROM upload_states ORDER BY id`)
	return states, err
}

// --- payments ---

func (s *Store) InsertPayment(p *models.PaymentRecord) error {
	_, err := s.db.NamedExec(`INSERT INTO payments
		(id, survey_id, subject_id, coupon_codes, amount, currency, method, signature_hex, audit_phone, recorded_at, recorded_by_id)
		VALUES (:id, :survey_id, :subject_id, :coupon_codes, :amount, :currency, :method, :signature_hex, :audit_phone, :recorded_at, :recorded_by_id)`, p)
	return err
}

func (s *Store) GetPayment(id string) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := s.db.Get(&p, `SELECT * FROM payments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// --- staff ---

func (s *Store) FindStaffByName(name string) (*models.StaffUser, error) {
	var u models.StaffUser
	err := s.db.Get(&u, `SELECT * FROM staff_users WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) AddStaff(u *models.StaffUser) error {
	_, err := s.db.NamedExec(`INSERT INTO staff_users (id, name, pin_hash, role, created_at)
		VALUES (:id, :name, :pin_hash, :role, :created_at)`, u)
	return err
}
