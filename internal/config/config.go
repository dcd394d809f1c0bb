package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	DatabaseURL string

	// Clinic time handling. Schedule times are local to the clinic.
	ClinicTimezone string

	// Booking behaviour
	ReservationTTL        time.Duration
	SweepInterval         time.Duration
	PatientCancelMinHours time.Duration
	DefaultMaxPatients    int
	DefaultPriceCents     int64
	ClinicDayStart        string
	ClinicDayEnd          string
	CurrencyCode          string

	// Commission
	PlatformCommissionRate float64

	// Payment provider
	PaymentProvider        string
	StripeSecretKey        string
	StripeBaseURL          string
	StripeWebhookSecret    string
	PaymentRetryAttempts   int
	PaymentRetryBaseDelay  time.Duration
	AllowFakePayments      bool

	// Booking attempt rate limiting
	RedisAddr           string
	RedisPassword       string
	VelocityEnabled     bool
	VelocityMaxAttempts int
	VelocityWindow      time.Duration

	// Email notifications
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string
	AWSRegion         string

	// Admin auth
	AdminJWTSecret string

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		ClinicTimezone: getEnv("CLINIC_TZ", "UTC"),

		ReservationTTL:        getEnvAsDuration("RESERVATION_TTL", 15*time.Minute),
		SweepInterval:         getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		PatientCancelMinHours: getEnvAsDuration("PATIENT_CANCEL_MIN_BEFORE", 24*time.Hour),
		DefaultMaxPatients:    getEnvAsInt("DEFAULT_MAX_PATIENTS", 1),
		DefaultPriceCents:     int64(getEnvAsInt("DEFAULT_PRICE_CENTS", 5000)),
		ClinicDayStart:        getEnv("CLINIC_DAY_START", "09:00"),
		ClinicDayEnd:          getEnv("CLINIC_DAY_END", "17:00"),
		CurrencyCode:          getEnv("CURRENCY_CODE", "usd"),

		PlatformCommissionRate: getEnvAsFloat("PLATFORM_COMMISSION_RATE", 0.10),

		PaymentProvider:       strings.ToLower(strings.TrimSpace(getEnv("PAYMENT_PROVIDER", "stripe"))),
		StripeSecretKey:       getEnv("STRIPE_SECRET_KEY", ""),
		StripeBaseURL:         getEnv("STRIPE_BASE_URL", ""),
		StripeWebhookSecret:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
		PaymentRetryAttempts:  getEnvAsInt("PAYMENT_RETRY_ATTEMPTS", 3),
		PaymentRetryBaseDelay: getEnvAsDuration("PAYMENT_RETRY_BASE_DELAY", 500*time.Millisecond),
		AllowFakePayments:     getEnvAsBool("ALLOW_FAKE_PAYMENTS", false),

		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		VelocityEnabled:     getEnvAsBool("VELOCITY_ENABLED", false),
		VelocityMaxAttempts: getEnvAsInt("VELOCITY_MAX_ATTEMPTS", 5),
		VelocityWindow:      getEnvAsDuration("VELOCITY_WINDOW", time.Hour),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "none"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "MedBook"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "MedBook"),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
