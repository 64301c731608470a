package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/opencohort/fieldlink/internal/api"
	"github.com/opencohort/fieldlink/internal/config"
	"github.com/opencohort/fieldlink/internal/middleware"
	"github.com/opencohort/fieldlink/internal/models"
	"github.com/opencohort/fieldlink/internal/services"
	"github.com/opencohort/fieldlink/internal/store"
	"github.com/opencohort/fieldlink/internal/upload"
	"github.com/opencohort/fieldlink/internal/workerpool"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database %s: %v", cfg.DBPath, err)
	}
	defer st.Close()
	if err := store.RunMigrations(st.DB(), cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	if cfg.QuestionsFile != "" {
		lang, questions, err := loadQuestionnaire(cfg.QuestionsFile)
		if err != nil {
			log.Fatalf("questionnaire: %v", err)
		}
		if err := st.ReplaceQuestions(lang, questions); err != nil {
			log.Fatalf("load questionnaire: %v", err)
		}
		log.Printf("loaded %d questions for language %s", len(questions), lang)
	}

	facility := models.FacilityConfig{
		CouponsToIssue:      cfg.CouponsToIssue,
		ReenrollWindowDays:  cfg.ReenrollWindowDays,
		PaymentAmount:       cfg.PaymentAmount,
		PaymentCurrency:     cfg.PaymentCurrency,
		FingerprintRequired: cfg.FingerprintRequired,
		AuditPhoneRequired:  cfg.AuditPhoneRequired,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var manager *upload.Manager
	var client *upload.Client
	if err := cfg.ValidateSync(); err != nil {
		log.Printf("sync disabled: %v", err)
	} else {
		client = upload.NewClient(cfg.ServerURL, cfg.APIKey, cfg.HTTPTimeout)
		pool := workerpool.New(ctx, 2, 64)
		manager = upload.NewManager(st, client, pool)
		go manager.RunPeriodicRetry(ctx, cfg.RetryInterval)
	}

	auth := middleware.NewAuth(cfg.JWTSecret)
	staffAuth := services.NewStaffAuthService(st, auth.SignToken)
	seedStaff(staffAuth)

	coupons := services.NewCouponService(st)
	var uploader services.Uploader
	if manager != nil {
		uploader = manager
	}
	enroll := services.NewEnrollmentService(st, coupons, facility)
	sessions := services.NewSessionService(st, coupons, uploader, facility)
	payments := services.NewPaymentService(st, coupons, uploader, facility)

	var pinger api.Pinger
	if client != nil {
		pinger = client
	}
	rt := api.NewRouter(enroll, sessions, coupons, payments, staffAuth, manager, pinger, st, auth)
	mux := http.NewServeMux()
	rt.Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "name": "fieldlink"})
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: auth.WithAuth(mux)}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Printf("fieldlink listening on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// seedStaff creates a bootstrap staff account from the environment on first
// run, so a fresh device can be logged into.
func seedStaff(staff *services.StaffAuthService) {
	name := os.Getenv("FIELDLINK_STAFF_NAME")
	pin := os.Getenv("FIELDLINK_STAFF_PIN")
	if name == "" || pin == "" {
		return
	}
	if _, err := staff.Register(name, pin, "supervisor"); err != nil {
		if se, ok := services.AsServiceError(err); ok && se.Code == services.ErrorConflict {
			return
		}
		log.Printf("seed staff %s: %v", name, err)
	}
}
