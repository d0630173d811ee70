package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"vouchex/native/common"
	"vouchex/native/voucher"
)

// Protocol error codes surfaced through JSON-RPC.
const (
	codeInvalidTransition = -32010
	codeWindowViolation   = -32011
	codeForbidden         = -32012
	codeNothingToWithdraw = -32013
	codeSupplyExhausted   = -32014
	codeNotFound          = -32015
	codeInsufficientFunds = -32016
	codeModulePaused      = -32017
	codeDisaster          = -32018
)

func (s *Server) dispatch(req *RPCRequest) (interface{}, *RPCError) {
	switch req.Method {
	case "voucher_createSupply":
		return s.handleCreateSupply(req)
	case "voucher_cancelSupply":
		return s.handleVoucherAction(req, s.node.CancelSupply)
	case "voucher_commit":
		return s.handleCommit(req)
	case "voucher_redeem":
		return s.handleVoucherAction(req, s.node.Redeem)
	case "voucher_refund":
		return s.handleVoucherAction(req, s.node.Refund)
	case "voucher_expire":
		return s.handleIDAction(req, s.node.Expire)
	case "voucher_complain":
		return s.handleVoucherAction(req, s.node.Complain)
	case "voucher_cancelOrFault":
		return s.handleVoucherAction(req, s.node.CancelOrFault)
	case "voucher_finalize":
		return s.handleIDAction(req, s.node.Finalize)
	case "voucher_withdraw":
		return s.handleIDAction(req, s.node.Withdraw)
	case "voucher_withdrawSupplyRemainder":
		return s.handleVoucherAction(req, s.node.WithdrawSupplyRemainder)
	case "voucher_withdrawOnDisaster":
		return s.handleDisasterWithdraw(req)
	case "voucher_getSupply":
		return s.handleGetSupply(req)
	case "voucher_getVoucher":
		return s.handleGetVoucher(req)
	case "voucher_getDistribution":
		return s.handleGetDistribution(req)
	case "voucher_escrowBalance":
		return s.handleEscrowBalance(req)
	case "voucher_getAccount":
		return s.handleGetAccount(req)
	case "admin_pause":
		return s.handleAdminAction(req, s.node.Pause)
	case "admin_unpause":
		return s.handleAdminAction(req, s.node.Unpause)
	case "admin_setDisasterState":
		return s.handleAdminAction(req, s.node.SetDisasterState)
	case "admin_credit":
		return s.handleCredit(req)
	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

type createSupplyParams struct {
	Seller               string `json:"seller"`
	Nonce                string `json:"nonce"`
	PriceAsset           string `json:"priceAsset"`
	DepositAsset         string `json:"depositAsset"`
	UnitPrice            string `json:"unitPrice"`
	SellerDepositPerUnit string `json:"sellerDepositPerUnit"`
	BuyerDepositPerUnit  string `json:"buyerDepositPerUnit"`
	ValidFrom            int64  `json:"validFrom"`
	ValidTo              int64  `json:"validTo"`
	Quantity             uint64 `json:"quantity"`
}

func (s *Server) handleCreateSupply(req *RPCRequest) (interface{}, *RPCError) {
	var params createSupplyParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	seller, err := parseAddress(params.Seller)
	if err != nil {
		return nil, invalidParams("seller: %v", err)
	}
	nonce, err := parseHash(params.Nonce)
	if err != nil {
		return nil, invalidParams("nonce: %v", err)
	}
	unitPrice, err := parseAmount(params.UnitPrice)
	if err != nil {
		return nil, invalidParams("unitPrice: %v", err)
	}
	sellerDep, err := parseAmount(params.SellerDepositPerUnit)
	if err != nil {
		return nil, invalidParams("sellerDepositPerUnit: %v", err)
	}
	buyerDep, err := parseAmount(params.BuyerDepositPerUnit)
	if err != nil {
		return nil, invalidParams("buyerDepositPerUnit: %v", err)
	}
	cfg := voucher.SupplyConfig{
		PriceAsset:           params.PriceAsset,
		DepositAsset:         params.DepositAsset,
		UnitPrice:            unitPrice,
		SellerDepositPerUnit: sellerDep,
		BuyerDepositPerUnit:  buyerDep,
		ValidFrom:            params.ValidFrom,
		ValidTo:              params.ValidTo,
		Quantity:             params.Quantity,
	}
	supply, actErr := s.node.CreateSupply(seller, cfg, nonce)
	if actErr != nil {
		return nil, errorToRPC(actErr)
	}
	return supplyResult(supply), nil
}

type commitParams struct {
	SupplyID string `json:"supplyId"`
	Buyer    string `json:"buyer"`
}

func (s *Server) handleCommit(req *RPCRequest) (interface{}, *RPCError) {
	var params commitParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	supplyID, err := parseHash(params.SupplyID)
	if err != nil {
		return nil, invalidParams("supplyId: %v", err)
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		return nil, invalidParams("buyer: %v", err)
	}
	v, actErr := s.node.Commit(supplyID, buyer)
	if actErr != nil {
		return nil, errorToRPC(actErr)
	}
	return voucherResult(v), nil
}

type idCallerParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

// handleVoucherAction serves the (id, caller) action shape shared by most
// lifecycle transitions.
func (s *Server) handleVoucherAction(req *RPCRequest, action func([32]byte, [20]byte) error) (interface{}, *RPCError) {
	var params idCallerParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id, err := parseHash(params.ID)
	if err != nil {
		return nil, invalidParams("id: %v", err)
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams("caller: %v", err)
	}
	if actErr := action(id, caller); actErr != nil {
		return nil, errorToRPC(actErr)
	}
	return map[string]bool{"ok": true}, nil
}

type idParams struct {
	ID string `json:"id"`
}

func (s *Server) handleIDAction(req *RPCRequest, action func([32]byte) error) (interface{}, *RPCError) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id, err := parseHash(params.ID)
	if err != nil {
		return nil, invalidParams("id: %v", err)
	}
	if actErr := action(id); actErr != nil {
		return nil, errorToRPC(actErr)
	}
	return map[string]bool{"ok": true}, nil
}

type disasterWithdrawParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
}

func (s *Server) handleDisasterWithdraw(req *RPCRequest) (interface{}, *RPCError) {
	var params disasterWithdrawParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams("caller: %v", err)
	}
	if actErr := s.node.WithdrawOnDisaster(caller, params.Asset); actErr != nil {
		return nil, errorToRPC(actErr)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleGetSupply(req *RPCRequest) (interface{}, *RPCError) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id, err := parseHash(params.ID)
	if err != nil {
		return nil, invalidParams("id: %v", err)
	}
	supply, ok := s.node.GetSupply(id)
	if !ok {
		return nil, &RPCError{Code: codeNotFound, Message: "supply not found"}
	}
	return supplyResult(supply), nil
}

func (s *Server) handleGetVoucher(req *RPCRequest) (interface{}, *RPCError) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id, err := parseHash(params.ID)
	if err != nil {
		return nil, invalidParams("id: %v", err)
	}
	v, ok := s.node.GetVoucher(id)
	if !ok {
		return nil, &RPCError{Code: codeNotFound, Message: "voucher not found"}
	}
	return voucherResult(v), nil
}

func (s *Server) handleGetDistribution(req *RPCRequest) (interface{}, *RPCError) {
	var params idParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	id, err := parseHash(params.ID)
	if err != nil {
		return nil, invalidParams("id: %v", err)
	}
	dist, ok := s.node.GetDistribution(id)
	if !ok {
		return nil, &RPCError{Code: codeNotFound, Message: "distribution not found"}
	}
	return distributionResult(dist), nil
}

type balanceParams struct {
	Owner string `json:"owner"`
	Asset string `json:"asset"`
}

func (s *Server) handleEscrowBalance(req *RPCRequest) (interface{}, *RPCError) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		return nil, invalidParams("owner: %v", err)
	}
	balance, actErr := s.node.EscrowBalance(owner, params.Asset)
	if actErr != nil {
		return nil, errorToRPC(actErr)
	}
	return map[string]string{"balance": balance.String()}, nil
}

type accountParams struct {
	Address string `json:"address"`
}

func (s *Server) handleGetAccount(req *RPCRequest) (interface{}, *RPCError) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, invalidParams("address: %v", err)
	}
	account, actErr := s.node.GetAccount(addr)
	if actErr != nil {
		return nil, errorToRPC(actErr)
	}
	return map[string]string{
		"vex":  account.BalanceVEX.String(),
		"vusd": account.BalanceVUSD.String(),
		"vgld": account.BalanceVGLD.String(),
	}, nil
}

type adminParams struct {
	Caller string `json:"caller"`
}

func (s *Server) handleAdminAction(req *RPCRequest, action func([20]byte) error) (interface{}, *RPCError) {
	var params adminParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams("caller: %v", err)
	}
	if actErr := action(caller); actErr != nil {
		return nil, errorToRPC(actErr)
	}
	return map[string]bool{"ok": true}, nil
}

type creditParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func (s *Server) handleCredit(req *RPCRequest) (interface{}, *RPCError) {
	var params creditParams
	if err := decodeParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, invalidParams("address: %v", err)
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, invalidParams("amount: %v", err)
	}
	if actErr := s.node.Credit(addr, params.Asset, amount); actErr != nil {
		return nil, errorToRPC(actErr)
	}
	return map[string]bool{"ok": true}, nil
}

func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "expected a single parameter object"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func parseAddress(s string) ([20]byte, error) {
	var addr [20]byte
	raw, err := parseHex(s, 20)
	if err != nil {
		return addr, err
	}
	copy(addr[:], raw)
	if addr == ([20]byte{}) {
		return addr, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}

func parseHash(s string) ([32]byte, error) {
	var h [32]byte
	raw, err := parseHex(s, 32)
	if err != nil {
		return h, err
	}
	copy(h[:], raw)
	return h, nil
}

func parseHex(s string, want int) ([]byte, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return nil, fmt.Errorf("value required")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %v", err)
	}
	if len(raw) != want {
		return nil, fmt.Errorf("expected %d bytes, got %d", want, len(raw))
	}
	return raw, nil
}

func parseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}

func errorToRPC(err error) *RPCError {
	switch {
	case errors.Is(err, voucher.ErrInvalidTransition):
		return &RPCError{Code: codeInvalidTransition, Message: err.Error()}
	case errors.Is(err, voucher.ErrWindowViolation):
		return &RPCError{Code: codeWindowViolation, Message: err.Error()}
	case errors.Is(err, voucher.ErrUnauthorized), errors.Is(err, common.ErrNotAdmin):
		return &RPCError{Code: codeForbidden, Message: err.Error()}
	case errors.Is(err, voucher.ErrNothingToWithdraw):
		return &RPCError{Code: codeNothingToWithdraw, Message: err.Error()}
	case errors.Is(err, voucher.ErrSupplyExhausted):
		return &RPCError{Code: codeSupplyExhausted, Message: err.Error()}
	case errors.Is(err, voucher.ErrUnknownSupply), errors.Is(err, voucher.ErrUnknownVoucher):
		return &RPCError{Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, voucher.ErrInsufficientFunds):
		return &RPCError{Code: codeInsufficientFunds, Message: err.Error()}
	case errors.Is(err, common.ErrModulePaused):
		return &RPCError{Code: codeModulePaused, Message: err.Error()}
	case errors.Is(err, voucher.ErrDisasterInactive), errors.Is(err, common.ErrDisasterArmed),
		errors.Is(err, common.ErrNotPaused), errors.Is(err, voucher.ErrEscrowEmpty):
		return &RPCError{Code: codeDisaster, Message: err.Error()}
	case errors.Is(err, voucher.ErrZeroID), errors.Is(err, voucher.ErrDepositOverLimit):
		return &RPCError{Code: codeInvalidParams, Message: err.Error()}
	default:
		return &RPCError{Code: codeServerError, Message: err.Error()}
	}
}

func supplyResult(s *voucher.Supply) map[string]interface{} {
	return map[string]interface{}{
		"id":                   hexHash(s.ID),
		"seller":               hexAddr(s.Seller),
		"priceAsset":           s.PriceAsset,
		"depositAsset":         s.DepositAsset,
		"unitPrice":            s.UnitPrice.String(),
		"sellerDepositPerUnit": s.SellerDepositPerUnit.String(),
		"buyerDepositPerUnit":  s.BuyerDepositPerUnit.String(),
		"validFrom":            s.ValidFrom,
		"validTo":              s.ValidTo,
		"quantity":             s.Quantity,
		"remaining":            s.Remaining,
		"issued":               s.Issued,
		"createdAt":            s.CreatedAt,
		"cancelledAt":          s.CancelledAt,
		"remainderUnits":       s.RemainderUnits,
	}
}

func voucherResult(v *voucher.Voucher) map[string]interface{} {
	return map[string]interface{}{
		"id":           hexHash(v.ID),
		"supplyId":     hexHash(v.SupplyID),
		"buyer":        hexAddr(v.Buyer),
		"seller":       hexAddr(v.Seller),
		"committedAt":  v.CommittedAt,
		"redeemedAt":   v.RedeemedAt,
		"refundedAt":   v.RefundedAt,
		"expiredAt":    v.ExpiredAt,
		"complainedAt": v.ComplainedAt,
		"cancelledAt":  v.CancelledAt,
		"finalizedAt":  v.FinalizedAt,
		"outcome":      v.Outcome().String(),
	}
}

func distributionResult(d *voucher.Distribution) map[string]interface{} {
	return map[string]interface{}{
		"voucherId":     hexHash(d.VoucherID),
		"price":         splitResult(d.Price),
		"sellerDeposit": splitResult(d.SellerDeposit),
		"buyerDeposit":  splitResult(d.BuyerDeposit),
		"computedAt":    d.ComputedAt,
	}
}

func splitResult(s voucher.Split) map[string]string {
	return map[string]string{
		"buyer":  s.Buyer.String(),
		"seller": s.Seller.String(),
		"escrow": s.Escrow.String(),
	}
}

func hexAddr(a [20]byte) string { return "0x" + hex.EncodeToString(a[:]) }
func hexHash(h [32]byte) string { return "0x" + hex.EncodeToString(h[:]) }
