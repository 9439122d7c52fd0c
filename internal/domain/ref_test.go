package domain

import (
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransactionRef(t *testing.T) {
	tok := uuid.MustParse("6f1c3a2e-9d7b-4c1e-8a55-0b9e2f4d7c11")

	t.Run("raw token", func(t *testing.T) {
		ref, err := ParseTransactionRef(tok.String())
		require.NoError(t, err)
		assert.Equal(t, TokenRef(tok), ref)
	})

	t.Run("raw legacy id", func(t *testing.T) {
		ref, err := ParseTransactionRef("42")
		require.NoError(t, err)
		assert.Equal(t, LegacyRef(42), ref)
	})

	t.Run("global id wrapping legacy id", func(t *testing.T) {
		gid := base64.StdEncoding.EncodeToString([]byte("TransactionItem:7"))
		ref, err := ParseTransactionRef(gid)
		require.NoError(t, err)
		assert.Equal(t, LegacyRef(7), ref)
	})

	t.Run("global id round trip", func(t *testing.T) {
		ref, err := ParseTransactionRef(TokenRef(tok).GlobalID())
		require.NoError(t, err)
		assert.Equal(t, RefToken, ref.Kind)
		assert.Equal(t, tok, ref.Token)
	})

	t.Run("rejects foreign global id type", func(t *testing.T) {
		gid := base64.StdEncoding.EncodeToString([]byte("Order:7"))
		_, err := ParseTransactionRef(gid)
		assert.ErrorIs(t, err, ErrInvalidRef)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		for _, s := range []string{"", "  ", "-5", "not a ref!"} {
			_, err := ParseTransactionRef(s)
			assert.ErrorIs(t, err, ErrInvalidRef, s)
		}
	})
}

func TestEventTypeTable(t *testing.T) {
	for _, typ := range EventTypes {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, TransactionEventType("CHARGE_BACK").Valid())

	assert.Equal(t, ChargeRequest, ChargeSuccess.RequestType())
	assert.Equal(t, RefundFailure, RefundReverse.FailureType())
	assert.Equal(t, AuthorizationFailure, AuthorizationAdjustment.FailureType())
	assert.Equal(t, Info, Info.FailureType())

	assert.True(t, ChargeSuccess.AmountOptional())
	assert.True(t, Info.AmountOptional())
	assert.False(t, ChargeRequest.AmountOptional())
	assert.False(t, RefundReverse.AmountOptional())
	assert.False(t, AuthorizationAdjustment.AmountOptional())

	assert.Equal(t, "", EventIdempotencyKey("", ChargeSuccess))
	assert.Equal(t, "psp-1:CHARGE_SUCCESS", EventIdempotencyKey("psp-1", ChargeSuccess))
}
