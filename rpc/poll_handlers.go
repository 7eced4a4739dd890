package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"pollstake/native/poll"
	"pollstake/native/registry"

	"pollstake/observability/metrics"
)

type pollDeployParams struct {
	Creator      string `json:"creator"`
	StartTime    int64  `json:"startTime"`
	EndTime      int64  `json:"endTime"`
	StakePerVote string `json:"stakePerVote"`
	WinningSlots uint32 `json:"winningSlots"`
	TotalOptions uint32 `json:"totalOptions"`
	Token        string `json:"token"`
}

type pollVoteParams struct {
	ID       string `json:"id"`
	Voter    string `json:"voter"`
	OptionID uint32 `json:"optionId"`
}

type pollActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type pollIDParams struct {
	ID string `json:"id"`
}

type pollOptionParams struct {
	ID       string `json:"id"`
	OptionID uint32 `json:"optionId"`
}

type ledgerBalanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

type pollJSON struct {
	ID                string   `json:"id"`
	Creator           string   `json:"creator"`
	Token             string   `json:"token"`
	StartTime         int64    `json:"startTime"`
	EndTime           int64    `json:"endTime"`
	StakePerVote      string   `json:"stakePerVote"`
	WinningSlots      uint32   `json:"winningSlots"`
	TotalOptions      uint32   `json:"totalOptions"`
	CreatedAt         int64    `json:"createdAt"`
	TotalStaked       string   `json:"totalStaked"`
	Phase             string   `json:"phase"`
	WinnersCalculated bool     `json:"winnersCalculated"`
	WinningOptions    []uint32 `json:"winningOptions"`
	WinningAmount     string   `json:"winningAmount"`
	FeeAmount         string   `json:"feeAmount"`
	CreatorClaimed    bool     `json:"creatorClaimed"`
	FeeClaimed        bool     `json:"feeClaimed"`
}

type pollResultsJSON struct {
	OptionIDs []uint32 `json:"optionIds"`
	Votes     []string `json:"votes"`
}

type claimResultJSON struct {
	Amount string `json:"amount"`
}

func (s *Server) handlePollDeploy(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params pollDeployParams
	if !decodeParams(w, req, &params) {
		return
	}
	creator, err := parseAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	stake, err := parsePositiveBigInt(params.StakePerVote)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	p, err := s.registry.Deploy(creator, poll.Params{
		StartTime:    params.StartTime,
		EndTime:      params.EndTime,
		StakePerVote: stake,
		WinningSlots: params.WinningSlots,
		TotalOptions: params.TotalOptions,
		Token:        params.Token,
	})
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	writeResult(w, req.ID, s.pollToJSON(p))
}

func (s *Server) handlePollVote(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params pollVoteParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, voter, ok := s.parsePollActor(w, req, params.ID, params.Voter)
	if !ok {
		return
	}
	if err := s.engine.Vote(id, voter, params.OptionID); err != nil {
		s.writePollError(w, req.ID, err, s.timingData(id, err))
		return
	}
	metrics.Poll().VoteAccepted(hex.EncodeToString(id[:]))
	s.recordStakedGauge(id)
	writeResult(w, req.ID, true)
}

func (s *Server) handlePollCancelVote(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params pollActorParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, caller, ok := s.parsePollActor(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	if err := s.engine.CancelVote(id, caller); err != nil {
		s.writePollError(w, req.ID, err, s.timingData(id, err))
		return
	}
	metrics.Poll().VoteCancelled(hex.EncodeToString(id[:]))
	s.recordStakedGauge(id)
	writeResult(w, req.ID, true)
}

func (s *Server) handlePollCalculateWinners(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params pollIDParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := parsePollID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	p, err := s.engine.CalculateWinners(id)
	if err != nil {
		s.writePollError(w, req.ID, err, s.timingData(id, err))
		return
	}
	writeResult(w, req.ID, s.pollToJSON(p))
}

func (s *Server) handlePollClaimCreator(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params pollActorParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, caller, ok := s.parsePollActor(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	amount, err := s.engine.ClaimCreatorFunds(id, caller)
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	metrics.Poll().ClaimPaid("creator")
	writeResult(w, req.ID, claimResultJSON{Amount: amount.String()})
}

func (s *Server) handlePollClaimFee(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params pollActorParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, caller, ok := s.parsePollActor(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	amount, err := s.engine.ClaimFee(id, caller)
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	metrics.Poll().ClaimPaid("fee")
	writeResult(w, req.ID, claimResultJSON{Amount: amount.String()})
}

func (s *Server) handlePollClaimRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params pollActorParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, caller, ok := s.parsePollActor(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	amount, err := s.engine.ClaimRefund(id, caller)
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	metrics.Poll().ClaimPaid("refund")
	writeResult(w, req.ID, claimResultJSON{Amount: amount.String()})
}

func (s *Server) handlePollRescue(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params pollActorParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, caller, ok := s.parsePollActor(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	amount, err := s.engine.RescueFunds(id, caller)
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	metrics.Poll().Rescue()
	writeResult(w, req.ID, claimResultJSON{Amount: amount.String()})
}

func (s *Server) handlePollGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params pollIDParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := parsePollID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	p, err := s.engine.Get(id)
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	writeResult(w, req.ID, s.pollToJSON(p))
}

func (s *Server) handlePollResults(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params pollIDParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := parsePollID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	options, votes, err := s.engine.VotingResults(id)
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	out := pollResultsJSON{OptionIDs: options, Votes: make([]string, len(votes))}
	for i, v := range votes {
		out.Votes[i] = v.String()
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handlePollWinners(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params pollIDParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := parsePollID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	winners, err := s.engine.WinningOptions(id)
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	writeResult(w, req.ID, winners)
}

func (s *Server) handlePollIsWinningOption(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params pollOptionParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := parsePollID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	winning, err := s.engine.IsWinningOption(id, params.OptionID)
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	writeResult(w, req.ID, winning)
}

type voterJSON struct {
	Voter        string `json:"voter"`
	HasVoted     bool   `json:"hasVoted"`
	OptionID     uint32 `json:"optionId"`
	StakeSettled bool   `json:"stakeSettled"`
}

func (s *Server) handlePollVoters(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params pollIDParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := parsePollID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	records, err := s.engine.Voters(id)
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	out := make([]voterJSON, len(records))
	for i, rec := range records {
		out[i] = voterJSON{
			Voter:        hex.EncodeToString(rec.Voter[:]),
			HasVoted:     rec.HasVoted,
			OptionID:     rec.Option,
			StakeSettled: rec.StakeSettled,
		}
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleLedgerBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params ledgerBalanceParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.ledger.BalanceOf(addr, strings.ToUpper(strings.TrimSpace(params.Token)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, claimResultJSON{Amount: balance.String()})
}

// --- helpers ---

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func (s *Server) parsePollActor(w http.ResponseWriter, req *RPCRequest, rawID, rawActor string) ([32]byte, [20]byte, bool) {
	id, err := parsePollID(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return id, [20]byte{}, false
	}
	actor, err := parseAddress(rawActor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return id, actor, false
	}
	return id, actor, true
}

func parseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("address %q must be 20 bytes", raw)
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parsePollID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("invalid poll id %q: %w", raw, err)
	}
	if len(decoded) != 32 {
		return id, fmt.Errorf("poll id %q must be 32 bytes", raw)
	}
	copy(id[:], decoded)
	return id, nil
}

func parsePositiveBigInt(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

func (s *Server) recordStakedGauge(id [32]byte) {
	p, err := s.engine.Get(id)
	if err != nil {
		return
	}
	staked, _ := new(big.Float).SetInt(p.TotalStaked).Float64()
	metrics.Poll().SetStaked(hex.EncodeToString(id[:]), staked)
}

// timingData attaches the poll's legal window to timing errors so callers
// can tell when to retry.
func (s *Server) timingData(id [32]byte, err error) map[string]interface{} {
	if !errors.Is(err, poll.ErrTiming) {
		return nil
	}
	p, getErr := s.engine.Get(id)
	if getErr != nil {
		return nil
	}
	return map[string]interface{}{
		"startTime": p.StartTime,
		"endTime":   p.EndTime,
	}
}

func (s *Server) writePollError(w http.ResponseWriter, id interface{}, err error, extra map[string]interface{}) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	switch {
	case errors.Is(err, poll.ErrNotFound):
		status = http.StatusNotFound
		code = codeNotFound
		message = "not_found"
	case errors.Is(err, registry.ErrPolicyNotSet):
		status = http.StatusConflict
		code = codeState
		message = "state_error"
	case errors.Is(err, poll.ErrValidation):
		status = http.StatusBadRequest
		code = codeValidation
		message = "validation_error"
	case errors.Is(err, poll.ErrTiming):
		status = http.StatusConflict
		code = codeTiming
		message = "timing_error"
	case errors.Is(err, poll.ErrAuthorization):
		status = http.StatusForbidden
		code = codeAuthorization
		message = "authorization_error"
	case errors.Is(err, poll.ErrState):
		status = http.StatusConflict
		code = codeState
		message = "state_error"
	case errors.Is(err, poll.ErrTransfer):
		status = http.StatusConflict
		code = codeTransfer
		message = "transfer_error"
	}
	var data interface{} = err.Error()
	if extra != nil {
		extra["error"] = err.Error()
		data = extra
	}
	writeError(w, status, id, code, message, data)
}

func (s *Server) pollToJSON(p *poll.Poll) pollJSON {
	out := pollJSON{
		ID:                hex.EncodeToString(p.ID[:]),
		Creator:           hex.EncodeToString(p.Creator[:]),
		Token:             p.Token,
		StartTime:         p.StartTime,
		EndTime:           p.EndTime,
		StakePerVote:      p.StakePerVote.String(),
		WinningSlots:      p.WinningSlots,
		TotalOptions:      p.TotalOptions,
		CreatedAt:         p.CreatedAt,
		TotalStaked:       p.TotalStaked.String(),
		Phase:             p.Phase(s.engine.Now()).String(),
		WinnersCalculated: p.WinnersCalculated,
		WinningOptions:    append([]uint32{}, p.WinningOptions...),
		WinningAmount:     p.WinningAmount.String(),
		FeeAmount:         p.FeeAmount.String(),
		CreatorClaimed:    p.CreatorClaimed,
		FeeClaimed:        p.FeeClaimed,
	}
	return out
}
