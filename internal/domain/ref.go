package domain

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// GlobalIDType is the type prefix of base64 global ids for transaction items.
const GlobalIDType = "TransactionItem"

var ErrInvalidRef = errors.New("invalid transaction reference")

type RefKind int

const (
	RefLegacy RefKind = iota + 1
	RefToken
)

// TransactionRef identifies a transaction either by its legacy integer id or by its token.
type TransactionRef struct {
	Kind     RefKind
	LegacyID int64
	Token    uuid.UUID
}

func LegacyRef(id int64) TransactionRef     { return TransactionRef{Kind: RefLegacy, LegacyID: id} }
func TokenRef(tok uuid.UUID) TransactionRef { return TransactionRef{Kind: RefToken, Token: tok} }

func (r TransactionRef) String() string {
	switch r.Kind {
	case RefLegacy:
		return strconv.FormatInt(r.LegacyID, 10)
	case RefToken:
		return r.Token.String()
	}
	return ""
}

// GlobalID encodes the reference the way external clients see it.
func (r TransactionRef) GlobalID() string {
	return base64.StdEncoding.EncodeToString([]byte(GlobalIDType + ":" + r.String()))
}

// ParseTransactionRef accepts a raw token, a raw legacy id, or a base64 global id wrapping either.
func ParseTransactionRef(s string) (TransactionRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TransactionRef{}, ErrInvalidRef
	}
	if ref, ok := parseRawRef(s); ok {
		return ref, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if raw, err = base64.RawURLEncoding.DecodeString(s); err != nil {
			return TransactionRef{}, ErrInvalidRef
		}
	}
	typ, id, ok := strings.Cut(string(raw), ":")
	if !ok || typ != GlobalIDType {
		return TransactionRef{}, ErrInvalidRef
	}
	if ref, ok := parseRawRef(id); ok {
		return ref, nil
	}
	return TransactionRef{}, ErrInvalidRef
}

func parseRawRef(s string) (TransactionRef, bool) {
	if tok, err := uuid.Parse(s); err == nil {
		return TokenRef(tok), true
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
		return LegacyRef(id), true
	}
	return TransactionRef{}, false
}
