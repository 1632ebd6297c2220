package main

import (
	"context"
	"fmt"

	"github.com/go-subscription-core/internal/application/auth"
	"github.com/go-subscription-core/internal/application/otp"
	"github.com/go-subscription-core/internal/application/payment"
	"github.com/go-subscription-core/internal/application/reset"
	"github.com/go-subscription-core/internal/application/session"
	"github.com/go-subscription-core/internal/config"
	"github.com/go-subscription-core/internal/infrastructure/dynamo"
	"github.com/go-subscription-core/internal/infrastructure/postgres"
)

type userStore interface {
	auth.UserStore
	payment.UserStore
	Ping(ctx context.Context) error
}

// stores is one driver's implementation of every repository.
type stores struct {
	users      userStore
	sessions   session.SessionStore
	challenges otp.ChallengeStore
	resets     reset.TokenStore
	billing    payment.BillingStore
	close      func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.RunMigrations {
			if err := postgres.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return &stores{
			users:      postgres.NewUserRepo(pool),
			sessions:   postgres.NewSessionRepo(pool),
			challenges: postgres.NewChallengeRepo(pool),
			resets:     postgres.NewResetTokenRepo(pool),
			billing:    postgres.NewBillingRepo(pool),
			close:      pool.Close,
		}, nil
	case config.StoreDynamo:
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		return &stores{
			users:      dynamo.NewUserRepo(client, cfg.DynamoTables),
			sessions:   dynamo.NewSessionRepo(client, cfg.DynamoTables),
			challenges: dynamo.NewChallengeRepo(client, cfg.DynamoTables.OtpChallenges),
			resets:     dynamo.NewResetTokenRepo(client, cfg.DynamoTables),
			billing:    dynamo.NewBillingRepo(client, cfg.DynamoTables),
			close:      func() {},
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
