package ledger

import (
	"encoding/json"

	"github.com/ksred/klear-repo/internal/contract"
	"github.com/shopspring/decimal"
)

// Choice names accepted by the ledger.
const (
	ChoiceInviteCCP                        = "InviteCCP"
	ChoiceAcceptClearingHouseInvite        = "AcceptClearingHouseInvite"
	ChoiceConfirmCCP                       = "ConfirmCCP"
	ChoiceInviteTradingParticipants        = "InviteTradingParticipants"
	ChoiceFormNettingGroups                = "FormNettingGroups"
	ChoiceAcceptTradingInvite              = "AcceptTradingInvite"
	ChoiceRequestTrade                     = "RequestTrade"
	ChoiceRegisterTrade                    = "RegisterTrade"
	ChoiceNovate                           = "Novate"
	ChoiceNetTrades                        = "NetTrades"
	ChoiceAcceptNetObligation              = "AcceptNetObligation"
	ChoiceCreateBuyDvP                     = "CreateBuyDvP"
	ChoiceCreateSellDvP                    = "CreateSellDvP"
	ChoiceAllocateCash                     = "AllocateCash"
	ChoiceAllocateSecurity                 = "AllocateSecurity"
	ChoiceSettle                           = "Settle"
	ChoiceArchiveInitiateSettlementControl = "ArchiveInitiateSettlementControl"
)

// Choice arguments.
type (
	InviteCCPArgs struct {
		CCP string `json:"ccp"`
	}
	AcceptClearingHouseInviteArgs struct {
		PaymentProcessor string `json:"payment_processor"`
	}
	InviteTradingParticipantsArgs struct {
		Parties []string `json:"parties"`
	}
	FormNettingGroupsArgs struct {
		Groups [][]string `json:"groups"`
	}
	RequestTradeArgs struct {
		Counterparty string             `json:"counterparty"`
		Info         contract.TradeInfo `json:"trade_info"`
	}
	CreateDvPArgs struct {
		PaymentProcessor string `json:"payment_processor"`
	}
	AllocateSecurityArgs struct {
		Securities []string `json:"securities"`
	}
)

type choice struct {
	consuming bool
	run       func(x *txn, c contract.Contract, args json.RawMessage) error
}

var choices = map[contract.TemplateID]map[string]choice{
	contract.GenesisTemplate: {
		ChoiceInviteCCP: {run: inviteCCP},
	},
	contract.InviteClearingHouseTemplate: {
		ChoiceAcceptClearingHouseInvite: {consuming: true, run: acceptClearingHouseInvite},
	},
	contract.CCPInviteTemplate: {
		ChoiceConfirmCCP: {consuming: true, run: confirmCCP},
	},
	contract.CCPTemplate: {
		ChoiceInviteTradingParticipants: {run: inviteTradingParticipants},
		ChoiceFormNettingGroups:         {run: formNettingGroups},
	},
	contract.InviteTradingParticipantTemplate: {
		ChoiceAcceptTradingInvite: {consuming: true, run: acceptTradingInvite},
	},
	contract.TradingParticipantTemplate: {
		ChoiceRequestTrade: {run: requestTrade},
	},
	contract.TradeRegistrationRequestTemplate: {
		ChoiceRegisterTrade: {consuming: true, run: registerTrade},
	},
	contract.TradeTemplate: {
		ChoiceNovate: {consuming: true, run: novate},
	},
	contract.NettingGroupTemplate: {
		ChoiceNetTrades: {consuming: true, run: netTrades},
	},
	contract.NetObligationRequestTemplate: {
		ChoiceAcceptNetObligation: {consuming: true, run: acceptNetObligation},
	},
	contract.NetObligationTemplate: {
		ChoiceCreateBuyDvP:  {consuming: true, run: createDvP(contract.SideBuy)},
		ChoiceCreateSellDvP: {consuming: true, run: createDvP(contract.SideSell)},
	},
	contract.DvPTemplate: {
		ChoiceAllocateCash: {consuming: true, run: allocateCash},
	},
	contract.CashAllocatedDvPTemplate: {
		ChoiceAllocateSecurity: {consuming: true, run: allocateSecurity},
	},
	contract.AllocatedDvPTemplate: {
		ChoiceSettle: {consuming: true, run: settle},
	},
	contract.InitiateSettlementControlTemplate: {
		ChoiceArchiveInitiateSettlementControl: {consuming: true, run: func(*txn, contract.Contract, json.RawMessage) error { return nil }},
	},
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return reject(ErrInvalidArgument, "%v", err)
	}
	return nil
}

func inviteCCP(x *txn, c contract.Contract, raw json.RawMessage) error {
	g := c.Payload.(*contract.Genesis)
	var args InviteCCPArgs
	if err := decodeArgs(raw, &args); err != nil {
		return err
	}
	if args.CCP == "" {
		return reject(ErrInvalidArgument, "ccp is required")
	}
	_, err := x.create(contract.InviteClearingHouse{Operator: g.Operator, CCP: args.CCP})
	return err
}

func acceptClearingHouseInvite(x *txn, c contract.Contract, raw json.RawMessage) error {
	inv := c.Payload.(*contract.InviteClearingHouse)
	var args AcceptClearingHouseInviteArgs
	if err := decodeArgs(raw, &args); err != nil {
		return err
	}
	if args.PaymentProcessor == "" {
		return reject(ErrInvalidArgument, "payment processor is required")
	}
	_, err := x.create(contract.CCPInvite{Operator: inv.Operator, CCP: inv.CCP, PaymentProcessor: args.PaymentProcessor})
	return err
}

func confirmCCP(x *txn, c contract.Contract, _ json.RawMessage) error {
	inv := c.Payload.(*contract.CCPInvite)
	_, err := x.create(contract.CCP{Operator: inv.Operator, CCP: inv.CCP, PaymentProcessor: inv.PaymentProcessor})
	return err
}

func inviteTradingParticipants(x *txn, c contract.Contract, raw json.RawMessage) error {
	role := c.Payload.(*contract.CCP)
	var args InviteTradingParticipantsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return err
	}
	for _, party := range args.Parties {
		if party == "" {
			return reject(ErrInvalidArgument, "empty participant name")
		}
		if _, err := x.create(contract.InviteTradingParticipant{Operator: role.Operator, CCP: role.CCP, Participant: party}); err != nil {
			return err
		}
	}
	return nil
}

// formNettingGroups archives every listed novated trade and creates one
// netting group per list. Members of a group must share a domain key.
func formNettingGroups(x *txn, c contract.Contract, raw json.RawMessage) error {
	role := c.Payload.(*contract.CCP)
	var args FormNettingGroupsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return err
	}
	if len(args.Groups) == 0 {
		return reject(ErrInvalidArgument, "no groups")
	}

	for i, ids := range args.Groups {
		if len(ids) == 0 {
			return reject(ErrInvalidArgument, "group %d is empty", i)
		}
		members := make([]contract.NovatedTrade, 0, len(ids))
		for _, id := range ids {
			nc, err := x.fetch(contract.NovatedTradeTemplate, id)
			if err != nil {
				return err
			}
			nt := nc.Payload.(*contract.NovatedTrade)
			if nt.CCP != role.CCP {
				return reject(ErrInvalidArgument, "novated trade %s belongs to %s", id, nt.CCP)
			}
			if len(members) > 0 && nt.DomainKey() != members[0].DomainKey() {
				return reject(ErrInvalidArgument, "group %d mixes netting keys", i)
			}
			if err := x.archive(id); err != nil {
				return err
			}
			members = append(members, *nt)
		}
		group := contract.NettingGroup{CCP: role.CCP, ParticipantID: members[0].ParticipantID, Trades: members}
		if _, err := x.create(group); err != nil {
			return err
		}
	}
	return nil
}

func acceptTradingInvite(x *txn, c contract.Contract, _ json.RawMessage) error {
	inv := c.Payload.(*contract.InviteTradingParticipant)
	_, err := x.create(contract.TradingParticipant{Operator: inv.Operator, CCP: inv.CCP, Participant: inv.Participant})
	return err
}

func requestTrade(x *txn, c contract.Contract, raw json.RawMessage) error {
	tp := c.Payload.(*contract.TradingParticipant)
	if x.party != tp.Participant {
		return reject(ErrNotStakeholder, "%s may not request trades for %s", x.party, tp.Participant)
	}
	var args RequestTradeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return err
	}
	switch {
	case args.Counterparty == "" || args.Counterparty == tp.Participant:
		return reject(ErrInvalidArgument, "invalid counterparty %q", args.Counterparty)
	case args.Info.Cusip == "" || args.Info.Currency == "":
		return reject(ErrInvalidArgument, "trade %d needs a cusip and currency", args.Info.TradeID)
	case args.Info.SettlementDate.IsZero():
		return reject(ErrInvalidArgument, "trade %d has no settlement date", args.Info.TradeID)
	case !args.Info.CollateralQuantity.IsPositive():
		return reject(ErrInvalidArgument, "trade %d has non-positive quantity", args.Info.TradeID)
	}
	_, err := x.create(contract.TradeRegistrationRequest{
		CCP:          tp.CCP,
		Requester:    tp.Participant,
		Counterparty: args.Counterparty,
		Info:         args.Info,
	})
	return err
}

func registerTrade(x *txn, c contract.Contract, _ json.RawMessage) error {
	req := c.Payload.(*contract.TradeRegistrationRequest)
	if x.party != req.Counterparty {
		return reject(ErrNotStakeholder, "only %s may register trade %d", req.Counterparty, req.Info.TradeID)
	}
	_, err := x.create(contract.Trade{CCP: req.CCP, Lender: req.Requester, Borrower: req.Counterparty, Info: req.Info})
	return err
}

// novate replaces a trade with one novated leg per counterparty. The lender
// buys the collateral, the borrower sells it.
func novate(x *txn, c contract.Contract, _ json.RawMessage) error {
	t := c.Payload.(*contract.Trade)
	if x.party != t.CCP {
		return reject(ErrNotStakeholder, "only %s may novate", t.CCP)
	}
	legs := []contract.NovatedTrade{
		{CCP: t.CCP, ParticipantID: t.Lender, IsBuy: true, Info: t.Info},
		{CCP: t.CCP, ParticipantID: t.Borrower, IsBuy: false, Info: t.Info},
	}
	for _, leg := range legs {
		if _, err := x.create(leg); err != nil {
			return err
		}
	}
	return nil
}

func netTrades(x *txn, c contract.Contract, _ json.RawMessage) error {
	g := c.Payload.(*contract.NettingGroup)
	if len(g.Trades) == 0 {
		return reject(ErrInvalidArgument, "netting group %s is empty", c.ID)
	}
	_, err := x.create(contract.NetObligationRequest{Obligation: Net(g.CCP, g.Trades)})
	return err
}

// Net folds novated legs into a single obligation. Buy legs add quantity and
// pay the start amount, sell legs do the opposite. A non-negative net
// quantity makes the participant the cash payer.
func Net(ccp string, legs []contract.NovatedTrade) contract.Obligation {
	qty := decimal.Zero
	cash := decimal.Zero
	for _, leg := range legs {
		if leg.IsBuy {
			qty = qty.Add(leg.Info.CollateralQuantity)
			cash = cash.Sub(leg.Info.StartAmount)
		} else {
			qty = qty.Sub(leg.Info.CollateralQuantity)
			cash = cash.Add(leg.Info.StartAmount)
		}
	}

	first := legs[0]
	ob := contract.Obligation{
		CCP:            ccp,
		ParticipantID:  first.ParticipantID,
		Cusip:          first.Info.Cusip,
		Currency:       first.Info.Currency,
		SettlementDate: first.Info.SettlementDate,
		PaymentAmount:  cash.Abs(),
		Quantity:       qty.Abs(),
	}
	if qty.Sign() >= 0 {
		ob.IsBuy = true
		ob.Payer = first.ParticipantID
		ob.Receiver = ccp
	} else {
		ob.Payer = ccp
		ob.Receiver = first.ParticipantID
	}
	return ob
}

func acceptNetObligation(x *txn, c contract.Contract, _ json.RawMessage) error {
	req := c.Payload.(*contract.NetObligationRequest)
	if x.party != req.ParticipantID {
		return reject(ErrNotStakeholder, "only %s may accept obligation %s", req.ParticipantID, c.ID)
	}
	_, err := x.create(contract.NetObligation{Obligation: req.Obligation})
	return err
}

func createDvP(side contract.Side) func(*txn, contract.Contract, json.RawMessage) error {
	return func(x *txn, c contract.Contract, raw json.RawMessage) error {
		ob := c.Payload.(*contract.NetObligation)
		var args CreateDvPArgs
		if err := decodeArgs(raw, &args); err != nil {
			return err
		}
		if (side == contract.SideBuy) != (ob.Payer == ob.CCP) {
			return reject(ErrInvalidArgument, "%s dvp does not match payer %s", side, ob.Payer)
		}
		_, err := x.create(contract.UnallocatedDvP{DvP: contract.DvP{
			CCP:              ob.CCP,
			PaymentProcessor: args.PaymentProcessor,
			Side:             side,
			Payer:            ob.Payer,
			Receiver:         ob.Receiver,
			SettlementDate:   ob.SettlementDate,
			Cusip:            ob.Cusip,
			Currency:         ob.Currency,
			PaymentAmount:    ob.PaymentAmount,
			Quantity:         ob.Quantity,
		}})
		return err
	}
}

func allocateCash(x *txn, c contract.Contract, _ json.RawMessage) error {
	d := c.Payload.(*contract.UnallocatedDvP)
	_, err := x.create(contract.CashAllocatedDvP{DvP: d.DvP})
	return err
}

// allocateSecurity consumes holdings of the submitter against the DvP's
// quantity. Any excess is returned to the owner as a new holding.
func allocateSecurity(x *txn, c contract.Contract, raw json.RawMessage) error {
	d := c.Payload.(*contract.CashAllocatedDvP)
	var args AllocateSecurityArgs
	if err := decodeArgs(raw, &args); err != nil {
		return err
	}

	total := decimal.Zero
	issuer := ""
	for _, id := range args.Securities {
		sc, err := x.fetch(contract.SecurityTemplate, id)
		if err != nil {
			return err
		}
		s := sc.Payload.(*contract.Security)
		if s.Owner != x.party {
			return reject(ErrNotStakeholder, "security %s is owned by %s", id, s.Owner)
		}
		if s.Cusip != d.Cusip {
			return reject(ErrInvalidArgument, "security %s is %s, dvp needs %s", id, s.Cusip, d.Cusip)
		}
		if err := x.archive(id); err != nil {
			return err
		}
		if issuer == "" {
			issuer = s.Issuer
		}
		total = total.Add(s.CollateralQuantity)
	}
	if total.LessThan(d.Quantity) {
		return reject(ErrInvalidArgument, "allocated %s of %s required", total, d.Quantity)
	}

	if excess := total.Sub(d.Quantity); excess.IsPositive() {
		if _, err := x.create(contract.Security{Issuer: issuer, Owner: x.party, Cusip: d.Cusip, CollateralQuantity: excess}); err != nil {
			return err
		}
	}

	allocated := d.DvP
	allocated.Securities = append([]string(nil), args.Securities...)
	_, err := x.create(contract.AllocatedDvP{DvP: allocated})
	return err
}

// settle finalises the DvP and delivers the collateral to the participant.
func settle(x *txn, c contract.Contract, _ json.RawMessage) error {
	d := c.Payload.(*contract.AllocatedDvP)
	if _, err := x.create(contract.SettledDvP{DvP: d.DvP}); err != nil {
		return err
	}
	if !d.Quantity.IsPositive() {
		return nil
	}
	_, err := x.create(contract.Security{Issuer: d.CCP, Owner: d.Counterparty(), Cusip: d.Cusip, CollateralQuantity: d.Quantity})
	return err
}
