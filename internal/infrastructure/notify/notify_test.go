package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"transaction-reconciler/internal/domain"
)

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return cfg
}

func paidOrder() *domain.Order {
	return &domain.Order{
		ID:         uuid.MustParse("6f1c1c1e-0000-4000-8000-000000000001"),
		Currency:   "USD",
		TotalGross: decimal.RequireFromString("100"),
		PaymentState: domain.PaymentState{
			TotalCharged:    decimal.RequireFromString("100"),
			AuthorizeStatus: domain.AuthorizeFull,
			ChargeStatus:    domain.ChargeFull,
		},
	}
}

func TestKafka_PublishesEnvelopeKeyedByOwner(t *testing.T) {
	producer := mocks.NewSyncProducer(t, producerConfig())
	defer producer.Close()

	order := paidOrder()
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != order.ID.String() {
			return errors.New("unexpected key " + string(key))
		}
		val, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.Name != OrderFullyPaid || env.ChargeStatus != domain.ChargeFull {
			return errors.New("unexpected envelope")
		}
		return nil
	})

	k := NewKafka(producer, "payment-notifications", zap.NewNop())
	k.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	triggered := Triggered{}
	require.NoError(t, k.Dispatch(context.Background(), OrderFullyPaid, order, triggered))
	assert.True(t, triggered.Has(OrderFullyPaid))

	// Already triggered: no second message is expected by the mock.
	require.NoError(t, k.Dispatch(context.Background(), OrderFullyPaid, order, triggered))
}

func TestKafka_SendFailureLeavesNameUntriggered(t *testing.T) {
	producer := mocks.NewSyncProducer(t, producerConfig())
	defer producer.Close()
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	k := NewKafka(producer, "payment-notifications", zap.NewNop())
	triggered := Triggered{}
	err := k.Dispatch(context.Background(), OrderPaid, paidOrder(), triggered)

	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.False(t, triggered.Has(OrderPaid))
}

type failing struct{ err error }

func (f failing) Dispatch(context.Context, Name, domain.Aggregate, Triggered) error { return f.err }

type collecting struct{ names []Name }

func (c *collecting) Dispatch(_ context.Context, name Name, _ domain.Aggregate, _ Triggered) error {
	c.names = append(c.names, name)
	return nil
}

func TestMulti_FansOutOnce(t *testing.T) {
	a, b := &collecting{}, &collecting{}
	boom := errors.New("boom")
	m := Multi{a, failing{boom}, b}

	triggered := Triggered{}
	err := m.Dispatch(context.Background(), OrderPaid, paidOrder(), triggered)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []Name{OrderPaid}, a.names)
	assert.Equal(t, []Name{OrderPaid}, b.names)

	require.NoError(t, m.Dispatch(context.Background(), OrderPaid, paidOrder(), triggered))
	assert.Len(t, a.names, 1)
}

func TestNewEnvelope(t *testing.T) {
	checkout := &domain.Checkout{
		Token:      uuid.New(),
		Currency:   "EUR",
		TotalGross: decimal.RequireFromString("20"),
		PaymentState: domain.PaymentState{
			TotalAuthorized: decimal.RequireFromString("20"),
			AuthorizeStatus: domain.AuthorizeFull,
			ChargeStatus:    domain.ChargeNone,
		},
	}
	env := NewEnvelope(CheckoutFullyPaid, checkout, time.Now())

	assert.Equal(t, domain.OwnerCheckout, env.OwnerKind)
	assert.Equal(t, checkout.Token.String(), env.OwnerID)
	assert.Equal(t, "EUR", env.Currency)
	assert.True(t, env.TotalAuthorized.Equal(decimal.RequireFromString("20")))
}
