package rpc

import "net/http"

type reserveRaiseParams struct {
	Funder string `json:"funder"`
	Amount string `json:"amount"`
	Note   string `json:"note,omitempty"`
}

type reserveBalanceResult struct {
	BalanceWei string `json:"balanceWei"`
}

func (s *Server) handleReserveRaise(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params reserveRaiseParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	funder, err := parseAddress(params.Funder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid funder", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.ledger.Raise(funder, amount, params.Note); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleReserveBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	balance, err := s.ledger.ReserveBalance()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, reserveBalanceResult{BalanceWei: balance.String()})
}
