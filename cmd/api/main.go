package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/SujitBista/medbook-sub005/internal/api/router"
	"github.com/SujitBista/medbook-sub005/internal/appointment"
	"github.com/SujitBista/medbook-sub005/internal/booking"
	"github.com/SujitBista/medbook-sub005/internal/commission"
	appconfig "github.com/SujitBista/medbook-sub005/internal/config"
	"github.com/SujitBista/medbook-sub005/internal/events"
	"github.com/SujitBista/medbook-sub005/internal/notify"
	"github.com/SujitBista/medbook-sub005/internal/observability/metrics"
	"github.com/SujitBista/medbook-sub005/internal/payments"
	"github.com/SujitBista/medbook-sub005/internal/schedule"
	"github.com/SujitBista/medbook-sub005/pkg/logging"
)

// webhookConfirmer adapts the booking service to the webhook's confirm hook.
// Failures no retry can fix are wrapped so the webhook refunds and acks
// instead of asking the provider to redeliver forever.
type webhookConfirmer struct {
	svc *booking.Service
}

func (c webhookConfirmer) ConfirmBooking(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := c.svc.ConfirmBooking(ctx, appointmentID)
	if err != nil && (errors.Is(err, booking.ErrNotFound) || errors.Is(err, booking.ErrConflict)) {
		return fmt.Errorf("%w: %v", payments.ErrConfirmRejected, err)
	}
	return err
}

// processedEventRetention bounds the webhook dedup table: providers stop
// retrying deliveries long before this.
const processedEventRetention = 30 * 24 * time.Hour

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting medbook API server", "env", cfg.Env, "port", cfg.Port)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create db pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping db", "error", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Error("invalid CLINIC_TZ", "tz", cfg.ClinicTimezone, "error", err)
		os.Exit(1)
	}

	scheduleStore := schedule.NewStore(pool)
	appointmentStore := appointment.NewStore(pool)
	commissionStore := commission.NewStore(pool, cfg.PlatformCommissionRate)
	processedEvents := events.NewProcessedStore(pool)

	contacts := notify.NewPGDirectory(pool)

	provider := buildPaymentProvider(cfg, logger)
	notifier := buildNotifier(ctx, cfg, contacts, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bookingMetrics := metrics.NewBookingMetrics(registry)

	dayStart, err := schedule.ParseTimeOfDay(cfg.ClinicDayStart)
	if err != nil {
		logger.Error("invalid CLINIC_DAY_START", "error", err)
		os.Exit(1)
	}
	dayEnd, err := schedule.ParseTimeOfDay(cfg.ClinicDayEnd)
	if err != nil {
		logger.Error("invalid CLINIC_DAY_END", "error", err)
		os.Exit(1)
	}

	svc := booking.NewService(scheduleStore, appointmentStore, commissionStore, provider, booking.Config{
		ReservationTTL:         cfg.ReservationTTL,
		PatientCancelMinBefore: cfg.PatientCancelMinHours,
		Currency:               cfg.CurrencyCode,
		DefaultPriceCents:      cfg.DefaultPriceCents,
		Location:               loc,
	}, logger).
		WithNotifier(notifier).
		WithMetrics(bookingMetrics)

	if cfg.VelocityEnabled && cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		svc.WithLimiter(booking.NewVelocityLimiter(redisClient, cfg.VelocityMaxAttempts, cfg.VelocityWindow))
		logger.Info("booking velocity limiter enabled",
			"max_attempts", cfg.VelocityMaxAttempts, "window", cfg.VelocityWindow)
	}

	webhook := payments.NewWebhookHandler(cfg.StripeWebhookSecret,
		webhookConfirmer{svc: svc}, processedEvents, logger.Component("webhook")).
		WithRefunder(provider)

	r := router.New(&router.Config{
		Logger: logger,
		BookingHandler: booking.NewHandler(svc, logger.Component("booking")).
			WithContacts(contacts),
		ScheduleHandler: schedule.NewHandler(scheduleStore, logger.Component("schedule")).
			WithDefaults(schedule.Defaults{
				MaxPatients: cfg.DefaultMaxPatients,
				DayStart:    dayStart,
				DayEnd:      dayEnd,
				PriceCents:  cfg.DefaultPriceCents,
			}),
		PaymentWebhook:     webhook,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// Background sweeper releases payment-pending holds past the TTL and
	// prunes aged webhook dedup records.
	go runSweeper(ctx, svc, processedEvents, cfg.SweepInterval, logger.Component("sweeper"))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func buildPaymentProvider(cfg *appconfig.Config, logger *logging.Logger) payments.Provider {
	switch cfg.PaymentProvider {
	case "fake":
		if !cfg.AllowFakePayments {
			logger.Error("PAYMENT_PROVIDER=fake requires ALLOW_FAKE_PAYMENTS=true")
			os.Exit(1)
		}
		logger.Warn("using fake payment provider, do not run this in production")
		return payments.NewFakeProvider(logger.Component("payments"))
	default:
		if cfg.StripeSecretKey == "" {
			logger.Error("STRIPE_SECRET_KEY is required")
			os.Exit(1)
		}
		return payments.NewStripeProvider(cfg.StripeSecretKey, logger.Component("payments")).
			WithBaseURL(cfg.StripeBaseURL).
			WithRetry(cfg.PaymentRetryAttempts, cfg.PaymentRetryBaseDelay)
	}
}

func buildNotifier(ctx context.Context, cfg *appconfig.Config, contacts notify.PatientDirectory, logger *logging.Logger) *notify.Service {
	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case "sendgrid":
		sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger.Component("notify"))
		if sg != nil {
			sender = sg
		}
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Error("failed to load AWS config for SES", "error", err)
			os.Exit(1)
		}
		sender = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger.Component("notify"))
	default:
		logger.Info("email notifications disabled")
	}
	return notify.NewService(sender, contacts, logger.Component("notify"))
}

func runSweeper(ctx context.Context, svc *booking.Service, processed *events.ProcessedStore, interval time.Duration, logger *logging.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.ExpireStale(ctx)
			if err != nil {
				logger.Error("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("released stale reservations", "count", n)
			}
			pruned, err := processed.Prune(ctx, time.Now().Add(-processedEventRetention))
			if err != nil {
				logger.Error("processed event prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				logger.Info("pruned processed webhook events", "count", pruned)
			}
		}
	}
}
