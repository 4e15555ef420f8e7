package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"kmfx/internal/ledger"
)

type accountRequest struct {
	Name            *string `json:"name"`
	Kind            *string `json:"kind"`
	TradingAccounts *string `json:"trading_accounts"`
	StartBalance    string  `json:"start_balance"`
	ReferredBy      *int64  `json:"referred_by"`
	Phone           *string `json:"phone"`
	Expiry          *string `json:"expiry"`
	Notes           *string `json:"notes"`
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (s *Server) handleAccountsList(w http.ResponseWriter, r *http.Request) {
	filter := ledger.AccountFilter{Search: r.URL.Query().Get("search")}
	if k := r.URL.Query().Get("kind"); k != "" {
		kind, err := ledger.ParseAccountKind(k)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		filter.Kind = kind
	}
	out, err := s.ledger.ListAccounts(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (s *Server) handleAccountCreate(w http.ResponseWriter, r *http.Request) {
	var in accountRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := ledger.ParseAccountKind(deref(in.Kind))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var start int64
	if strings.TrimSpace(in.StartBalance) != "" {
		if start, err = ledger.ParseUSD(in.StartBalance); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	na := ledger.NewAccount{
		Name:               deref(in.Name),
		Kind:               kind,
		TradingAccounts:    deref(in.TradingAccounts),
		StartBalanceMicros: start,
		ReferredBy:         in.ReferredBy,
		Phone:              deref(in.Phone),
		Notes:              deref(in.Notes),
	}
	if in.Expiry != nil && *in.Expiry != "" {
		if na.Expiry, err = parseDate(*in.Expiry); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	acc, err := s.ledger.CreateAccount(r.Context(), na)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) handleAccountGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := s.ledger.Account(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	earned, err := s.ledger.ReferralEarnings(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acc, "referral_earnings_micros": earned})
}

func (s *Server) handleAccountUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in accountRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.StartBalance != "" {
		writeError(w, http.StatusBadRequest, "start_balance cannot be changed")
		return
	}
	patch := ledger.AccountPatch{
		Name:            in.Name,
		TradingAccounts: in.TradingAccounts,
		ReferredBy:      in.ReferredBy,
		Phone:           in.Phone,
		Notes:           in.Notes,
	}
	if in.Kind != nil {
		kind, err := ledger.ParseAccountKind(*in.Kind)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		patch.Kind = &kind
	}
	if in.Expiry != nil {
		if patch.Expiry, err = parseDate(*in.Expiry); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	acc, err := s.ledger.UpdateAccount(r.Context(), id, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleAccountDownline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeDownline(w, r, id)
}

func (s *Server) writeDownline(w http.ResponseWriter, r *http.Request, id int64) {
	depth, err := queryInt64(r, "depth")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if depth <= 0 {
		depth = ledger.MaxReferralDepth
	}
	tree, err := s.ledger.Downline(r.Context(), id, int(depth))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleProfitPost(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AccountID int64  `json:"account_id"`
		Amount    string `json:"amount"`
		Date      string `json:"date"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := ledger.ParseUSD(in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	date := time.Now().UTC()
	if in.Date != "" {
		d, err := parseDate(in.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		date = *d
	}
	res, err := s.ledger.PostProfit(r.Context(), ledger.PostingInput{
		AccountID:      in.AccountID,
		AmountMicros:   amount,
		Date:           date,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleProfitsList(w http.ResponseWriter, r *http.Request) {
	accountID, err := queryInt64(r, "account_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeProfits(w, r, accountID)
}

func (s *Server) writeProfits(w http.ResponseWriter, r *http.Request, accountID int64) {
	filter := ledger.ProfitFilter{AccountID: accountID}
	var err error
	if filter.From, err = queryDate(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.To, err = queryDate(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt64(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = int(limit)
	out, err := s.ledger.ProfitHistory(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": out})
}

func (s *Server) handleWithdrawalsList(w http.ResponseWriter, r *http.Request) {
	accountID, err := queryInt64(r, "account_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeWithdrawals(w, r, accountID)
}

func (s *Server) writeWithdrawals(w http.ResponseWriter, r *http.Request, accountID int64) {
	filter := ledger.WithdrawalFilter{AccountID: accountID}
	status, err := parseWithdrawalStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Status = status
	out, err := s.ledger.Withdrawals(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": out})
}

func parseWithdrawalStatus(v string) (ledger.WithdrawalStatus, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return "", nil
	case "pending":
		return ledger.WithdrawalPending, nil
	case "approved":
		return ledger.WithdrawalApproved, nil
	case "rejected":
		return ledger.WithdrawalRejected, nil
	default:
		return "", errors.New("invalid status")
	}
}

type withdrawalRequest struct {
	AccountID int64  `json:"account_id,omitempty"`
	Amount    string `json:"amount"`
	Method    string `json:"method"`
	Details   string `json:"details"`
}

func (s *Server) handleWithdrawalCreate(w http.ResponseWriter, r *http.Request) {
	var in withdrawalRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.requestWithdrawal(w, r, in.AccountID, in)
}

func (s *Server) requestWithdrawal(w http.ResponseWriter, r *http.Request, accountID int64, in withdrawalRequest) {
	amount, err := ledger.ParseUSD(in.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ticket, err := s.ledger.RequestWithdrawal(r.Context(), ledger.WithdrawalRequest{
		AccountID:    accountID,
		AmountMicros: amount,
		Method:       in.Method,
		Details:      in.Details,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (s *Server) handleWithdrawalApprove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := principalFromContext(r.Context())
	out, err := s.ledger.ApproveWithdrawal(r.Context(), id, p.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWithdrawalReject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := principalFromContext(r.Context())
	out, err := s.ledger.RejectWithdrawal(r.Context(), id, p.Username, in.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
