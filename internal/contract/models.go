package contract

import (
	"github.com/shopspring/decimal"
)

// TemplateID tags the type of a contract on the ledger.
type TemplateID string

const (
	GenesisTemplate                   TemplateID = "Genesis"
	InviteClearingHouseTemplate       TemplateID = "InviteClearingHouse"
	CCPInviteTemplate                 TemplateID = "CCPInvite"
	CCPTemplate                       TemplateID = "CCP"
	InitiateSettlementControlTemplate TemplateID = "InitiateSettlementControl"
	InviteTradingParticipantTemplate  TemplateID = "InviteTradingParticipant"
	TradingParticipantTemplate        TemplateID = "TradingParticipant"
	TradeRegistrationRequestTemplate  TemplateID = "TradeRegistrationRequest"
	TradeTemplate                     TemplateID = "Trade"
	NovatedTradeTemplate              TemplateID = "NovatedTrade"
	NettingGroupTemplate              TemplateID = "NettingGroup"
	NetObligationRequestTemplate      TemplateID = "NetObligationRequest"
	NetObligationTemplate             TemplateID = "NetObligation"
	DvPTemplate                       TemplateID = "DvP"
	CashAllocatedDvPTemplate          TemplateID = "CashAllocatedDvP"
	AllocatedDvPTemplate              TemplateID = "AllocatedDvP"
	SettledDvPTemplate                TemplateID = "SettledDvP"
	SecurityTemplate                  TemplateID = "Security"
)

// Payload is the typed body of a contract.
type Payload interface {
	Template() TemplateID
	// Stakeholders are the parties that can observe and exercise the contract.
	Stakeholders() []string
}

// TradeInfo holds the economic terms of a repo trade.
type TradeInfo struct {
	TradeID            int64           `json:"trade_id"`
	Cusip              string          `json:"cusip"`
	SettlementDate     Date            `json:"settlement_date"`
	TradeDate          Date            `json:"trade_date"`
	CollateralQuantity decimal.Decimal `json:"collateral_quantity"`
	Price              decimal.Decimal `json:"price"`
	RepoRate           decimal.Decimal `json:"repo_rate"`
	Term               int64           `json:"term"`
	StartAmount        decimal.Decimal `json:"start_amount"`
	EndAmount          decimal.Decimal `json:"end_amount"`
	Currency           string          `json:"currency"`
}

type Genesis struct {
	Operator string `json:"operator"`
}

func (Genesis) Template() TemplateID { return GenesisTemplate }
func (g Genesis) Stakeholders() []string { return []string{g.Operator} }

type InviteClearingHouse struct {
	Operator string `json:"operator"`
	CCP      string `json:"ccp"`
}

func (InviteClearingHouse) Template() TemplateID { return InviteClearingHouseTemplate }
func (i InviteClearingHouse) Stakeholders() []string { return []string{i.Operator, i.CCP} }

type CCPInvite struct {
	Operator         string `json:"operator"`
	CCP              string `json:"ccp"`
	PaymentProcessor string `json:"payment_processor"`
}

func (CCPInvite) Template() TemplateID { return CCPInviteTemplate }
func (i CCPInvite) Stakeholders() []string {
	return []string{i.Operator, i.CCP, i.PaymentProcessor}
}

// CCP is the clearing house role contract.
type CCP struct {
	Operator         string `json:"operator"`
	CCP              string `json:"ccp"`
	PaymentProcessor string `json:"payment_processor"`
}

func (CCP) Template() TemplateID { return CCPTemplate }
func (c CCP) Stakeholders() []string {
	return []string{c.Operator, c.CCP, c.PaymentProcessor}
}

// InitiateSettlementControl is the sentinel asking the clearing house to
// settle a date.
type InitiateSettlementControl struct {
	Operator       string `json:"operator"`
	CCP            string `json:"ccp"`
	SettlementDate Date   `json:"settlement_date"`
}

func (InitiateSettlementControl) Template() TemplateID { return InitiateSettlementControlTemplate }
func (i InitiateSettlementControl) Stakeholders() []string {
	return []string{i.Operator, i.CCP}
}

type InviteTradingParticipant struct {
	Operator    string `json:"operator"`
	CCP         string `json:"ccp"`
	Participant string `json:"participant"`
}

func (InviteTradingParticipant) Template() TemplateID { return InviteTradingParticipantTemplate }
func (i InviteTradingParticipant) Stakeholders() []string {
	return []string{i.Operator, i.CCP, i.Participant}
}

type TradingParticipant struct {
	Operator    string `json:"operator"`
	CCP         string `json:"ccp"`
	Participant string `json:"participant"`
}

func (TradingParticipant) Template() TemplateID { return TradingParticipantTemplate }
func (t TradingParticipant) Stakeholders() []string {
	return []string{t.Operator, t.CCP, t.Participant}
}

type TradeRegistrationRequest struct {
	CCP          string    `json:"ccp"`
	Requester    string    `json:"requester"`
	Counterparty string    `json:"counterparty"`
	Info         TradeInfo `json:"trade_info"`
}

func (TradeRegistrationRequest) Template() TemplateID { return TradeRegistrationRequestTemplate }
func (r TradeRegistrationRequest) Stakeholders() []string {
	return []string{r.Requester, r.Counterparty}
}

// Trade is a registered bilateral repo. The lender buys the collateral at
// the start leg and the borrower sells it.
type Trade struct {
	CCP      string    `json:"ccp"`
	Lender   string    `json:"lender"`
	Borrower string    `json:"borrower"`
	Info     TradeInfo `json:"trade_info"`
}

func (Trade) Template() TemplateID { return TradeTemplate }
func (t Trade) Stakeholders() []string { return []string{t.CCP, t.Lender, t.Borrower} }

// NovatedTrade is one side of a trade facing the clearing house.
type NovatedTrade struct {
	CCP           string    `json:"ccp"`
	ParticipantID string    `json:"participant_id"`
	IsBuy         bool      `json:"is_buy"`
	Info          TradeInfo `json:"trade_info"`
}

func (NovatedTrade) Template() TemplateID { return NovatedTradeTemplate }
func (n NovatedTrade) Stakeholders() []string { return []string{n.CCP, n.ParticipantID} }

// DomainKey is the netting key shared by every member of a netting group.
type DomainKey struct {
	SettlementDate Date
	ParticipantID  string
	Cusip          string
	Currency       string
}

func (n NovatedTrade) DomainKey() DomainKey {
	return DomainKey{
		SettlementDate: n.Info.SettlementDate,
		ParticipantID:  n.ParticipantID,
		Cusip:          n.Info.Cusip,
		Currency:       n.Info.Currency,
	}
}

type NettingGroup struct {
	CCP           string         `json:"ccp"`
	ParticipantID string         `json:"participant_id"`
	Trades        []NovatedTrade `json:"trades"`
}

func (NettingGroup) Template() TemplateID { return NettingGroupTemplate }
func (g NettingGroup) Stakeholders() []string { return []string{g.CCP, g.ParticipantID} }

// Obligation carries the netted terms between a participant and the
// clearing house. Payer and Receiver refer to the cash leg.
type Obligation struct {
	CCP            string          `json:"ccp"`
	ParticipantID  string          `json:"participant_id"`
	IsBuy          bool            `json:"is_buy"`
	Payer          string          `json:"payer"`
	Receiver       string          `json:"receiver"`
	Cusip          string          `json:"cusip"`
	Currency       string          `json:"currency"`
	PaymentAmount  decimal.Decimal `json:"payment_amount"`
	Quantity       decimal.Decimal `json:"quantity"`
	SettlementDate Date            `json:"settlement_date"`
}

func (o Obligation) Stakeholders() []string { return []string{o.CCP, o.ParticipantID} }

type NetObligationRequest struct {
	Obligation
}

func (NetObligationRequest) Template() TemplateID { return NetObligationRequestTemplate }

type NetObligation struct {
	Obligation
}

func (NetObligation) Template() TemplateID { return NetObligationTemplate }

// Side of a DvP from the clearing house's point of view.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// DvP is a delivery-versus-payment instruction. The same terms flow through
// the unallocated, cash-allocated, allocated and settled stages.
type DvP struct {
	CCP              string          `json:"ccp"`
	PaymentProcessor string          `json:"payment_processor"`
	Side             Side            `json:"side"`
	Payer            string          `json:"payer"`
	Receiver         string          `json:"receiver"`
	SettlementDate   Date            `json:"settlement_date"`
	Cusip            string          `json:"cusip"`
	Currency         string          `json:"currency"`
	PaymentAmount    decimal.Decimal `json:"payment_amount"`
	Quantity         decimal.Decimal `json:"quantity"`
	Securities       []string        `json:"securities,omitempty"`
}

func (d DvP) Stakeholders() []string {
	parties := []string{d.CCP, d.Payer, d.Receiver}
	if d.PaymentProcessor != "" {
		parties = append(parties, d.PaymentProcessor)
	}
	return parties
}

// Counterparty is the participant side of the DvP.
func (d DvP) Counterparty() string {
	if d.Payer == d.CCP {
		return d.Receiver
	}
	return d.Payer
}

type UnallocatedDvP struct{ DvP }

func (UnallocatedDvP) Template() TemplateID { return DvPTemplate }

type CashAllocatedDvP struct{ DvP }

func (CashAllocatedDvP) Template() TemplateID { return CashAllocatedDvPTemplate }

type AllocatedDvP struct{ DvP }

func (AllocatedDvP) Template() TemplateID { return AllocatedDvPTemplate }

type SettledDvP struct{ DvP }

func (SettledDvP) Template() TemplateID { return SettledDvPTemplate }

// Security is a collateral holding.
type Security struct {
	Issuer             string          `json:"issuer"`
	Owner              string          `json:"owner"`
	Cusip              string          `json:"cusip"`
	CollateralQuantity decimal.Decimal `json:"collateral_quantity"`
}

func (Security) Template() TemplateID { return SecurityTemplate }
func (s Security) Stakeholders() []string {
	if s.Issuer == "" || s.Issuer == s.Owner {
		return []string{s.Owner}
	}
	return []string{s.Issuer, s.Owner}
}
