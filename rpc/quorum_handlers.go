package rpc

import (
	"encoding/hex"
	"net/http"
)

type quorumProposeAcceptParams struct {
	Owner  string `json:"owner"`
	LoanID uint64 `json:"loanId"`
	Key    string `json:"key"`
	Note   string `json:"note,omitempty"`
}

type quorumProposeAddPaymentParams struct {
	Owner  string `json:"owner"`
	LoanID uint64 `json:"loanId"`
	Payer  string `json:"payer"`
	Amount string `json:"amount"`
	Note   string `json:"note,omitempty"`
}

type quorumProposeLiquidateParams struct {
	Owner           string `json:"owner"`
	LoanID          uint64 `json:"loanId"`
	CollateralPrice string `json:"collateralPrice"`
	AssetPrice      string `json:"assetPrice"`
	Note            string `json:"note,omitempty"`
}

type quorumProposeSpendParams struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
	Note   string `json:"note,omitempty"`
}

type quorumTxParams struct {
	Owner string `json:"owner,omitempty"`
	TxID  uint64 `json:"txId"`
}

type quorumTxResult struct {
	TxID     uint64 `json:"txId"`
	Executed bool   `json:"executed"`
	// ExecError carries the staged call's failure when the proposal reached
	// the threshold but its execution failed. The transaction stays open.
	ExecError string `json:"execError,omitempty"`
}

type quorumSnapshotResult struct {
	TxID          uint64   `json:"txId"`
	Kind          string   `json:"kind"`
	Proposer      string   `json:"proposer"`
	Confirmations []string `json:"confirmations"`
	Executed      bool     `json:"executed"`
	CreatedAt     int64    `json:"createdAt"`
}

// writeProposal reports the new transaction id even when immediate execution
// failed, so the proposer can gather further confirmations or retry.
func (s *Server) writeProposal(w http.ResponseWriter, req *RPCRequest, txID uint64, execErr error) {
	result := quorumTxResult{TxID: txID}
	if execErr != nil {
		result.ExecError = execErr.Error()
	} else {
		result.Executed = s.isExecuted(txID)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) isExecuted(txID uint64) bool {
	tx, ok := s.ledger.QuorumTransaction(txID)
	return ok && tx.Executed
}

func (s *Server) handleQuorumProposeAccept(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params quorumProposeAcceptParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
		return
	}
	key, err := hex.DecodeString(params.Key)
	if err != nil || len(key) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "key must be hex-encoded bytes", nil)
		return
	}
	txID, execErr := s.ledger.ProposeAcceptLoan(owner, params.LoanID, key, params.Note)
	if txID == 0 {
		writeLedgerError(w, req.ID, execErr)
		return
	}
	s.writeProposal(w, req, txID, execErr)
}

func (s *Server) handleQuorumProposeAddPayment(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params quorumProposeAddPaymentParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
		return
	}
	payer, err := parseAddress(params.Payer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payer", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	txID, execErr := s.ledger.ProposeAddPayment(owner, params.LoanID, payer, amount, params.Note)
	if txID == 0 {
		writeLedgerError(w, req.ID, execErr)
		return
	}
	s.writeProposal(w, req, txID, execErr)
}

func (s *Server) handleQuorumProposeLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params quorumProposeLiquidateParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
		return
	}
	collateralPrice, err := parseAmount(params.CollateralPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid collateralPrice", err.Error())
		return
	}
	assetPrice, err := parseAmount(params.AssetPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid assetPrice", err.Error())
		return
	}
	txID, execErr := s.ledger.ProposeLiquidate(owner, params.LoanID, collateralPrice, assetPrice, params.Note)
	if txID == 0 {
		writeLedgerError(w, req.ID, execErr)
		return
	}
	s.writeProposal(w, req, txID, execErr)
}

func (s *Server) handleQuorumProposeSpend(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params quorumProposeSpendParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	txID, execErr := s.ledger.ProposeSpend(owner, amount, params.Note)
	if txID == 0 {
		writeLedgerError(w, req.ID, execErr)
		return
	}
	s.writeProposal(w, req, txID, execErr)
}

func (s *Server) handleQuorumConfirm(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params quorumTxParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
		return
	}
	if err := s.ledger.Confirm(owner, params.TxID); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, quorumTxResult{TxID: params.TxID, Executed: s.isExecuted(params.TxID)})
}

func (s *Server) handleQuorumRevoke(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params quorumTxParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
		return
	}
	if err := s.ledger.Revoke(owner, params.TxID); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, quorumTxResult{TxID: params.TxID})
}

func (s *Server) handleQuorumGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params quorumTxParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	tx, ok := s.ledger.QuorumTransaction(params.TxID)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "unknown transaction id", nil)
		return
	}
	confirmations := make([]string, 0, len(tx.Confirmations))
	for _, addr := range tx.Confirmations {
		confirmations = append(confirmations, addr.String())
	}
	writeResult(w, req.ID, quorumSnapshotResult{
		TxID:          tx.ID,
		Kind:          tx.Kind,
		Proposer:      tx.Proposer.String(),
		Confirmations: confirmations,
		Executed:      tx.Executed,
		CreatedAt:     tx.CreatedAt,
	})
}
