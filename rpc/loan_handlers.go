package rpc

import (
	"encoding/hex"
	"net/http"

	"loanvault/native/loan"
)

type loanSendCollateralParams struct {
	Depositor string `json:"depositor"`
	Digest    string `json:"digest"`
	Receiver  string `json:"receiver"`
	Principal string `json:"principal"`
	Value     string `json:"value"`
	Note      string `json:"note,omitempty"`
}

type loanIDParams struct {
	Caller string `json:"caller,omitempty"`
	LoanID uint64 `json:"loanId"`
	Note   string `json:"note,omitempty"`
}

type loanRatioParams struct {
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

type loanIDResult struct {
	LoanID uint64 `json:"loanId"`
}

type loanResult struct {
	LoanID         uint64 `json:"loanId"`
	Depositor      string `json:"depositor"`
	Receiver       string `json:"receiver"`
	Collateral     string `json:"collateral"`
	Principal      string `json:"principal"`
	Outstanding    string `json:"outstanding"`
	Interest       string `json:"interest"`
	Status         string `json:"status"`
	CreatedAt      int64  `json:"createdAt"`
	EscrowDeadline int64  `json:"escrowDeadline"`
	AcceptedAt     int64  `json:"acceptedAt,omitempty"`
	MaturityAt     int64  `json:"maturityAt,omitempty"`
}

func newLoanResult(l *loan.Loan) *loanResult {
	return &loanResult{
		LoanID:         l.ID,
		Depositor:      l.Depositor.String(),
		Receiver:       l.Receiver.String(),
		Collateral:     l.CollateralWei.String(),
		Principal:      l.PrincipalWei.String(),
		Outstanding:    l.OutstandingWei.String(),
		Interest:       l.InterestWei.String(),
		Status:         l.Status.String(),
		CreatedAt:      l.CreatedAt,
		EscrowDeadline: l.EscrowDeadline,
		AcceptedAt:     l.AcceptedAt,
		MaturityAt:     l.MaturityAt,
	}
}

func (s *Server) handleLoanSendCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params loanSendCollateralParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	depositor, err := parseAddress(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid depositor", err.Error())
		return
	}
	receiver, err := parseAddress(params.Receiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid receiver", err.Error())
		return
	}
	digestBytes, err := hex.DecodeString(params.Digest)
	if err != nil || len(digestBytes) != 32 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "digest must be 32 hex-encoded bytes", nil)
		return
	}
	var digest [32]byte
	copy(digest[:], digestBytes)
	principal, err := parseAmount(params.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid principal", err.Error())
		return
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid value", err.Error())
		return
	}

	loanID, err := s.ledger.SendCollateral(depositor, digest, receiver, principal, value, params.Note)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, loanIDResult{LoanID: loanID})
}

func (s *Server) handleLoanRefundCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params loanIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	if err := s.ledger.RefundCollateral(caller, params.LoanID, params.Note); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, loanIDResult{LoanID: params.LoanID})
}

func (s *Server) handleLoanGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params loanIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	l, err := s.ledger.GetLoan(params.LoanID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newLoanResult(l))
}

func (s *Server) handleLoanCollateralRatio(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params loanRatioParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	collateral, err := parseAmount(params.Collateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid collateral", err.Error())
		return
	}
	debt, err := parseAmount(params.Debt)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid debt", err.Error())
		return
	}
	ratio, err := loan.CollateralRatio(collateral, debt)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"ratioBps": ratio.String()})
}

func (s *Server) handleLoanLiquidateMatured(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params loanIDParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	if err := s.ledger.LiquidateMatured(params.LoanID, params.Note); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, loanIDResult{LoanID: params.LoanID})
}
