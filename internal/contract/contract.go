// Package contract defines the typed entities that live on the shared ledger
// and the point-in-time snapshot a party observes.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrDecode          = errors.New("contract decode failed")
	ErrUnknownTemplate = errors.New("unknown template")
)

// Contract is an active ledger entity. Payload is decoded once, keyed by
// Template, so consumers switch on concrete payload types instead of
// inspecting raw records.
type Contract struct {
	ID       string
	Template TemplateID
	Payload  Payload
}

var registry = map[TemplateID]func() Payload{
	GenesisTemplate:                   func() Payload { return &Genesis{} },
	InviteClearingHouseTemplate:       func() Payload { return &InviteClearingHouse{} },
	CCPInviteTemplate:                 func() Payload { return &CCPInvite{} },
	CCPTemplate:                       func() Payload { return &CCP{} },
	InitiateSettlementControlTemplate: func() Payload { return &InitiateSettlementControl{} },
	InviteTradingParticipantTemplate:  func() Payload { return &InviteTradingParticipant{} },
	TradingParticipantTemplate:        func() Payload { return &TradingParticipant{} },
	TradeRegistrationRequestTemplate:  func() Payload { return &TradeRegistrationRequest{} },
	TradeTemplate:                     func() Payload { return &Trade{} },
	NovatedTradeTemplate:              func() Payload { return &NovatedTrade{} },
	NettingGroupTemplate:              func() Payload { return &NettingGroup{} },
	NetObligationRequestTemplate:      func() Payload { return &NetObligationRequest{} },
	NetObligationTemplate:             func() Payload { return &NetObligation{} },
	DvPTemplate:                       func() Payload { return &UnallocatedDvP{} },
	CashAllocatedDvPTemplate:          func() Payload { return &CashAllocatedDvP{} },
	AllocatedDvPTemplate:              func() Payload { return &AllocatedDvP{} },
	SettledDvPTemplate:                func() Payload { return &SettledDvP{} },
	SecurityTemplate:                  func() Payload { return &Security{} },
}

// Known reports whether t is a registered template.
func Known(t TemplateID) bool {
	_, ok := registry[t]
	return ok
}

// Decode builds a typed contract from its stored JSON form. The payload of
// the returned contract is always a pointer to the concrete type.
func Decode(id string, t TemplateID, data []byte) (Contract, error) {
	newPayload, ok := registry[t]
	if !ok {
		return Contract{}, fmt.Errorf("%w: %w: %s", ErrDecode, ErrUnknownTemplate, t)
	}
	p := newPayload()
	if err := json.Unmarshal(data, p); err != nil {
		return Contract{}, fmt.Errorf("%w: %s %s: %w", ErrDecode, t, id, err)
	}
	return Contract{ID: id, Template: t, Payload: p}, nil
}

// Encode serialises a payload for storage.
func Encode(p Payload) ([]byte, error) {
	if !Known(p.Template()) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, p.Template())
	}
	return json.Marshal(p)
}

// As returns the payload of c as T, or ErrDecode if the contract carries a
// different shape. Template filters make a mismatch a schema bug, so callers
// treat the error as fatal.
func As[T Payload](c Contract) (T, error) {
	p, ok := c.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: contract %s (%s) has payload %T", ErrDecode, c.ID, c.Template, c.Payload)
	}
	return p, nil
}
