package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-subscription-core/internal/application/auth"
	"github.com/go-subscription-core/internal/application/otp"
	"github.com/go-subscription-core/internal/application/payment"
	"github.com/go-subscription-core/internal/application/reset"
	"github.com/go-subscription-core/internal/application/session"
	"github.com/go-subscription-core/internal/config"
	"github.com/go-subscription-core/internal/infrastructure/fakegateway"
	jwtinfra "github.com/go-subscription-core/internal/infrastructure/jwt"
	"github.com/go-subscription-core/internal/infrastructure/kafka"
	"github.com/go-subscription-core/internal/infrastructure/razorpay"
	"github.com/go-subscription-core/internal/infrastructure/redis"
	s3infra "github.com/go-subscription-core/internal/infrastructure/s3"
	"github.com/go-subscription-core/internal/infrastructure/smtp"
	"github.com/go-subscription-core/internal/infrastructure/sns"
	"github.com/go-subscription-core/internal/infrastructure/stripe"
	"github.com/go-subscription-core/internal/pkg/hasher"
	"github.com/go-subscription-core/internal/pkg/logger"
	transporthttp "github.com/go-subscription-core/internal/transport/http"
	"github.com/joho/godotenv"
)

const serviceName = "subscription-core"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.SetDefault(logger.New(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	tokens, err := jwtinfra.NewProvider(cfg, nil)
	if err != nil {
		return fmt.Errorf("jwt provider: %w", err)
	}

	var events interface {
		session.EventPublisher
		Close() error
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := pub.Close(); err != nil {
				slog.Warn("kafka publisher close", slog.String("error", err.Error()))
			}
		}()
		events = pub
	}

	var codeSender otp.CodeSender
	if cfg.SMSEnabled {
		sender, err := sns.NewSender(ctx, cfg)
		if err != nil {
			return fmt.Errorf("sns sender: %w", err)
		}
		codeSender = sender
	}

	var throttle auth.Throttle
	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		throttle = redis.NewThrottle(client, cfg.OTPRequestLimit, cfg.OTPRequestWindow)
	}

	var archive payment.InvoiceArchive
	if cfg.InvoiceBucket != "" {
		client, err := s3infra.NewClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("s3 client: %w", err)
		}
		archive = s3infra.NewInvoiceArchive(client, cfg.InvoiceBucket)
	}

	var mailer reset.Mailer
	if cfg.ResetLinkBaseURL != "" {
		mailer = smtp.NewMailer(cfg)
	}

	gateway, err := newGateway(cfg)
	if err != nil {
		return err
	}

	otpSvc := otp.NewService(otp.ServiceDeps{
		Store:  st.challenges,
		Hasher: hasher.New(),
		Sender: codeSender,
		Settings: otp.Settings{
			Lifetime:    cfg.OTPLifetime(),
			MaxAttempts: cfg.OTPMaxAttempts,
			ExposeCodes: cfg.OTPExposeCodes,
		},
	})
	sessionDeps := session.ServiceDeps{UserRepo: st.users, SessionRepo: st.sessions}
	resetDeps := reset.ServiceDeps{
		UserRepo:    st.users,
		TokenRepo:   st.resets,
		Hasher:      hasher.New(),
		Mailer:      mailer,
		LinkBaseURL: cfg.ResetLinkBaseURL,
	}
	paymentDeps := payment.ServiceDeps{
		UserRepo:    st.users,
		BillingRepo: st.billing,
		Gateway:     gateway,
		Archive:     archive,
		Settings: payment.Settings{
			DefaultAmountMinor: cfg.DefaultAmountMinor,
			Currency:           cfg.Currency,
			DefaultPlanID:      cfg.DefaultPlanID,
			PendingOrderTTL:    cfg.PendingOrderTTL,
		},
	}
	if events != nil {
		sessionDeps.Events = events
		resetDeps.Events = events
		paymentDeps.Events = events
	}
	sessionSvc := session.NewService(sessionDeps)

	authSvc := auth.NewService(auth.ServiceDeps{
		UserRepo: st.users,
		OTP:      otpSvc,
		Sessions: sessionSvc,
		Tokens:   tokens,
		Throttle: throttle,
	})

	router := transporthttp.NewRouter(ctx, cfg, &transporthttp.Deps{
		Auth:     authSvc,
		Resets:   reset.NewService(resetDeps),
		Payments: payment.NewService(paymentDeps),
		Tokens:   tokens,
		Sessions: sessionSvc,
		Store:    st.users,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			slog.String("port", cfg.AppPort),
			slog.String("env", cfg.AppEnv),
			slog.String("store", cfg.StoreDriver),
			slog.String("gateway", gateway.Name()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func newGateway(cfg *config.Config) (payment.Gateway, error) {
	switch cfg.GatewayProvider {
	case config.GatewayRazorpay:
		return razorpay.New(razorpay.Config{
			KeyID:     cfg.RazorpayKeyID,
			KeySecret: cfg.RazorpayKeySecret,
			BaseURL:   cfg.RazorpayBaseURL,
		}), nil
	case config.GatewayStripe:
		return stripe.New(cfg.StripeSecretKey, cfg.StripeSigningKey), nil
	case config.GatewayFake:
		slog.Warn("using the in-memory fake payment gateway")
		return fakegateway.New(cfg.FakeGatewaySecret), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway %q", cfg.GatewayProvider)
	}
}
