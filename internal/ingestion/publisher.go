package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"PayLedger/internal/report"
	"PayLedger/internal/state"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// AccountPublisher publishes final account records for downstream consumers.
// Subjects follow the pattern: payledger.accounts.{client}
type AccountPublisher struct {
	js     jetstream.JetStream
	runID  string
	logger zerolog.Logger
}

// accountMessage is the published payload.
type accountMessage struct {
	RunID string `json:"run_id"`
	report.Record
}

func NewAccountPublisher(js jetstream.JetStream, runID string, logger zerolog.Logger) *AccountPublisher {
	return &AccountPublisher{
		js:     js,
		runID:  runID,
		logger: logger,
	}
}

// Publish sends one message per account. Failures are logged and joined;
// the remaining accounts are still published.
func (p *AccountPublisher) Publish(ctx context.Context, accounts []state.Account) error {
	var errs []error
	for _, acct := range accounts {
		if err := p.publish(ctx, acct); err != nil {
			p.logger.Warn().Err(err).Uint16("client", uint16(acct.Client)).Msg("account publish failed")
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		p.logger.Info().Int("accounts", len(accounts)).Msg("accounts published")
	}
	return errors.Join(errs...)
}

func (p *AccountPublisher) publish(ctx context.Context, acct state.Account) error {
	data, err := json.Marshal(accountMessage{RunID: p.runID, Record: report.FromAccount(acct)})
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}

	subject := fmt.Sprintf("payledger.accounts.%d", acct.Client)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
