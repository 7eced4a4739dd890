package rpc

import (
	"encoding/hex"
	"net/http"
)

type registryCreatorParams struct {
	Creator string `json:"creator"`
}

type registrySetAddressParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

type registrySetFeeRateParams struct {
	Caller     string `json:"caller"`
	FeeRateBps uint32 `json:"feeRateBps"`
}

type policyJSON struct {
	Admin           string `json:"admin"`
	FeeRecipient    string `json:"feeRecipient"`
	RescueRecipient string `json:"rescueRecipient"`
	FeeRateBps      uint32 `json:"feeRateBps"`
}

type registryListJSON struct {
	Polls []string `json:"polls"`
	Count int      `json:"count"`
}

func (s *Server) handleRegistryList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	ids, err := s.registry.ListPolls()
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	writeResult(w, req.ID, idsToJSON(ids))
}

func (s *Server) handleRegistryListByCreator(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params registryCreatorParams
	if !decodeParams(w, req, &params) {
		return
	}
	creator, err := parseAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	ids, err := s.registry.ListPollsByCreator(creator)
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	writeResult(w, req.ID, idsToJSON(ids))
}

func (s *Server) handleRegistryPolicy(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	policy, err := s.registry.Policy()
	if err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	writeResult(w, req.ID, policyJSON{
		Admin:           hex.EncodeToString(policy.Admin[:]),
		FeeRecipient:    hex.EncodeToString(policy.FeeRecipient[:]),
		RescueRecipient: hex.EncodeToString(policy.RescueRecipient[:]),
		FeeRateBps:      policy.FeeRateBps,
	})
}

func (s *Server) handleRegistrySetAdmin(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleRegistrySetAddress(w, r, req, s.registry.SetAdmin)
}

func (s *Server) handleRegistrySetFeeRecipient(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleRegistrySetAddress(w, r, req, s.registry.SetFeeRecipient)
}

func (s *Server) handleRegistrySetRescueRecipient(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleRegistrySetAddress(w, r, req, s.registry.SetRescueRecipient)
}

func (s *Server) handleRegistrySetAddress(w http.ResponseWriter, r *http.Request, req *RPCRequest, set func(caller, addr [20]byte) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params registrySetAddressParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := set(caller, addr); err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistrySetFeeRate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params registrySetFeeRateParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.registry.SetFeeRateBps(caller, params.FeeRateBps); err != nil {
		s.writePollError(w, req.ID, err, nil)
		return
	}
	writeResult(w, req.ID, true)
}

func idsToJSON(ids [][32]byte) registryListJSON {
	out := registryListJSON{Polls: make([]string, len(ids)), Count: len(ids)}
	for i, id := range ids {
		out.Polls[i] = hex.EncodeToString(id[:])
	}
	return out
}
