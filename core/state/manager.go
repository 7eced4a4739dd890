package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"pollstake/core/types"
	"pollstake/native/poll"
	"pollstake/native/registry"
	"pollstake/storage"
)

// Key prefixes for the record families stored in the backing KV store.
var (
	prefixAccount       = []byte("account/")
	prefixPoll          = []byte("poll/record/")
	prefixVoter         = []byte("poll/voter/")
	keyPolicy           = []byte("registry/policy")
	keyRegistryNonce    = []byte("registry/nonce")
	keyRegistryPolls    = []byte("registry/polls")
	prefixCreatorsPolls = []byte("registry/creator/")
)

// Manager persists accounts, polls, voter records, and the registry policy in
// a storage.Database. It backs the poll engine state, the registry state, and
// the ledger account store.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: corrupt record %q: %w", string(key), err)
	}
	return true, nil
}

func (m *Manager) putJSON(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, raw)
}

// --- accounts (ledger state) ---

type storedAccount struct {
	Nonce    uint64            `json:"nonce"`
	Balances map[string]string `json:"balances"`
}

// GetAccount loads the account record, returning an empty account when the
// address has no history.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	key := append(append([]byte(nil), prefixAccount...), addr...)
	var stored storedAccount
	ok, err := m.getJSON(key, &stored)
	if err != nil {
		return nil, err
	}
	acc := &types.Account{Balances: make(map[string]*big.Int)}
	if !ok {
		return acc, nil
	}
	acc.Nonce = stored.Nonce
	for token, raw := range stored.Balances {
		bal, valid := new(big.Int).SetString(raw, 10)
		if !valid {
			return nil, fmt.Errorf("state: corrupt balance for token %s", token)
		}
		acc.Balances[token] = bal
	}
	return acc, nil
}

// PutAccount stores the account record.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	stored := storedAccount{Nonce: account.Nonce, Balances: make(map[string]string, len(account.Balances))}
	for token, bal := range account.Balances {
		if bal == nil {
			bal = big.NewInt(0)
		}
		stored.Balances[token] = bal.String()
	}
	key := append(append([]byte(nil), prefixAccount...), addr...)
	return m.putJSON(key, stored)
}

// --- polls (engine state) ---

type storedPoll struct {
	ID                string   `json:"id"`
	Creator           string   `json:"creator"`
	Token             string   `json:"token"`
	StartTime         int64    `json:"startTime"`
	EndTime           int64    `json:"endTime"`
	StakePerVote      string   `json:"stakePerVote"`
	WinningSlots      uint32   `json:"winningSlots"`
	TotalOptions      uint32   `json:"totalOptions"`
	CreatedAt         int64    `json:"createdAt"`
	VotesByOption     []string `json:"votesByOption"`
	TotalStaked       string   `json:"totalStaked"`
	WinnersCalculated bool     `json:"winnersCalculated"`
	WinningOptions    []uint32 `json:"winningOptions"`
	WinningAmount     string   `json:"winningAmount"`
	FeeAmount         string   `json:"feeAmount"`
	CreatorClaimed    bool     `json:"creatorClaimed"`
	FeeClaimed        bool     `json:"feeClaimed"`
}

// PollPut stores the poll record.
func (m *Manager) PollPut(p *poll.Poll) error {
	if p == nil {
		return fmt.Errorf("state: nil poll")
	}
	stored := storedPoll{
		ID:                encodeHex(p.ID[:]),
		Creator:           encodeHex(p.Creator[:]),
		Token:             p.Token,
		StartTime:         p.StartTime,
		EndTime:           p.EndTime,
		StakePerVote:      bigString(p.StakePerVote),
		WinningSlots:      p.WinningSlots,
		TotalOptions:      p.TotalOptions,
		CreatedAt:         p.CreatedAt,
		TotalStaked:       bigString(p.TotalStaked),
		WinnersCalculated: p.WinnersCalculated,
		WinningOptions:    append([]uint32(nil), p.WinningOptions...),
		WinningAmount:     bigString(p.WinningAmount),
		FeeAmount:         bigString(p.FeeAmount),
		CreatorClaimed:    p.CreatorClaimed,
		FeeClaimed:        p.FeeClaimed,
	}
	stored.VotesByOption = make([]string, len(p.VotesByOption))
	for i, votes := range p.VotesByOption {
		stored.VotesByOption[i] = bigString(votes)
	}
	key := append(append([]byte(nil), prefixPoll...), p.ID[:]...)
	return m.putJSON(key, stored)
}

// PollGet loads the poll record by id.
func (m *Manager) PollGet(id [32]byte) (*poll.Poll, bool, error) {
	key := append(append([]byte(nil), prefixPoll...), id[:]...)
	var stored storedPoll
	ok, err := m.getJSON(key, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	p := &poll.Poll{
		Token:             stored.Token,
		StartTime:         stored.StartTime,
		EndTime:           stored.EndTime,
		WinningSlots:      stored.WinningSlots,
		TotalOptions:      stored.TotalOptions,
		CreatedAt:         stored.CreatedAt,
		WinnersCalculated: stored.WinnersCalculated,
		WinningOptions:    append([]uint32(nil), stored.WinningOptions...),
		CreatorClaimed:    stored.CreatorClaimed,
		FeeClaimed:        stored.FeeClaimed,
	}
	if err := decodeHex32(stored.ID, &p.ID); err != nil {
		return nil, false, err
	}
	if err := decodeHex20(stored.Creator, &p.Creator); err != nil {
		return nil, false, err
	}
	if p.StakePerVote, err = parseBig(stored.StakePerVote); err != nil {
		return nil, false, err
	}
	if p.TotalStaked, err = parseBig(stored.TotalStaked); err != nil {
		return nil, false, err
	}
	if p.WinningAmount, err = parseBig(stored.WinningAmount); err != nil {
		return nil, false, err
	}
	if p.FeeAmount, err = parseBig(stored.FeeAmount); err != nil {
		return nil, false, err
	}
	p.VotesByOption = make([]*big.Int, len(stored.VotesByOption))
	for i, raw := range stored.VotesByOption {
		if p.VotesByOption[i], err = parseBig(raw); err != nil {
			return nil, false, err
		}
	}
	return p, true, nil
}

// --- voter records (engine state) ---

type storedVoter struct {
	Poll         string `json:"poll"`
	Voter        string `json:"voter"`
	HasVoted     bool   `json:"hasVoted"`
	Option       uint32 `json:"option"`
	StakeSettled bool   `json:"stakeSettled"`
}

// VoterPut stores the voter record.
func (m *Manager) VoterPut(rec *poll.VoterRecord) error {
	if rec == nil {
		return fmt.Errorf("state: nil voter record")
	}
	stored := storedVoter{
		Poll:         encodeHex(rec.Poll[:]),
		Voter:        encodeHex(rec.Voter[:]),
		HasVoted:     rec.HasVoted,
		Option:       rec.Option,
		StakeSettled: rec.StakeSettled,
	}
	return m.putJSON(voterKey(rec.Poll, rec.Voter), stored)
}

// VoterGet loads the voter record for the poll.
func (m *Manager) VoterGet(pollID [32]byte, voter [20]byte) (*poll.VoterRecord, bool, error) {
	var stored storedVoter
	ok, err := m.getJSON(voterKey(pollID, voter), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	rec := &poll.VoterRecord{
		HasVoted:     stored.HasVoted,
		Option:       stored.Option,
		StakeSettled: stored.StakeSettled,
	}
	if err := decodeHex32(stored.Poll, &rec.Poll); err != nil {
		return nil, false, err
	}
	if err := decodeHex20(stored.Voter, &rec.Voter); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// VoterList scans every voter record stored under the poll. Order follows the
// backend's iteration order; callers needing determinism must sort.
func (m *Manager) VoterList(pollID [32]byte) ([]*poll.VoterRecord, error) {
	prefix := append(append([]byte(nil), prefixVoter...), pollID[:]...)
	var records []*poll.VoterRecord
	var scanErr error
	err := m.db.IteratePrefix(prefix, func(key, value []byte) bool {
		var stored storedVoter
		if err := json.Unmarshal(value, &stored); err != nil {
			scanErr = fmt.Errorf("state: corrupt record %q: %w", string(key), err)
			return false
		}
		rec := &poll.VoterRecord{
			HasVoted:     stored.HasVoted,
			Option:       stored.Option,
			StakeSettled: stored.StakeSettled,
		}
		if scanErr = decodeHex32(stored.Poll, &rec.Poll); scanErr != nil {
			return false
		}
		if scanErr = decodeHex20(stored.Voter, &rec.Voter); scanErr != nil {
			return false
		}
		records = append(records, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return records, nil
}

func voterKey(pollID [32]byte, voter [20]byte) []byte {
	key := append(append([]byte(nil), prefixVoter...), pollID[:]...)
	return append(key, voter[:]...)
}

// --- registry state ---

type storedPolicy struct {
	Admin           string `json:"admin"`
	FeeRecipient    string `json:"feeRecipient"`
	RescueRecipient string `json:"rescueRecipient"`
	FeeRateBps      uint32 `json:"feeRateBps"`
}

// PolicyPut stores the registry policy tuple.
func (m *Manager) PolicyPut(p *registry.Policy) error {
	if p == nil {
		return fmt.Errorf("state: nil policy")
	}
	stored := storedPolicy{
		Admin:           encodeHex(p.Admin[:]),
		FeeRecipient:    encodeHex(p.FeeRecipient[:]),
		RescueRecipient: encodeHex(p.RescueRecipient[:]),
		FeeRateBps:      p.FeeRateBps,
	}
	return m.putJSON(keyPolicy, stored)
}

// PolicyGet loads the registry policy tuple.
func (m *Manager) PolicyGet() (*registry.Policy, bool, error) {
	var stored storedPolicy
	ok, err := m.getJSON(keyPolicy, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	p := &registry.Policy{FeeRateBps: stored.FeeRateBps}
	if err := decodeHex20(stored.Admin, &p.Admin); err != nil {
		return nil, false, err
	}
	if err := decodeHex20(stored.FeeRecipient, &p.FeeRecipient); err != nil {
		return nil, false, err
	}
	if err := decodeHex20(stored.RescueRecipient, &p.RescueRecipient); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// RegistryNextNonce allocates the next poll nonce, starting at 1.
func (m *Manager) RegistryNextNonce() (uint64, error) {
	var nonce uint64
	raw, err := m.db.Get(keyRegistryNonce)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
	case err != nil:
		return 0, err
	case len(raw) == 8:
		nonce = binary.BigEndian.Uint64(raw)
	default:
		return 0, fmt.Errorf("state: corrupt registry nonce")
	}
	nonce++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	if err := m.db.Put(keyRegistryNonce, buf); err != nil {
		return 0, err
	}
	return nonce, nil
}

// RegistryAppendPoll appends the poll id to the global and per-creator
// indexes, preserving creation order.
func (m *Manager) RegistryAppendPoll(id [32]byte, creator [20]byte) error {
	if err := m.appendToIndex(keyRegistryPolls, id); err != nil {
		return err
	}
	key := append(append([]byte(nil), prefixCreatorsPolls...), creator[:]...)
	return m.appendToIndex(key, id)
}

// RegistryPolls returns every deployed poll id in creation order.
func (m *Manager) RegistryPolls() ([][32]byte, error) {
	return m.readIndex(keyRegistryPolls)
}

// RegistryPollsByCreator returns the creator's polls in creation order.
func (m *Manager) RegistryPollsByCreator(creator [20]byte) ([][32]byte, error) {
	key := append(append([]byte(nil), prefixCreatorsPolls...), creator[:]...)
	return m.readIndex(key)
}

func (m *Manager) appendToIndex(key []byte, id [32]byte) error {
	var ids []string
	if _, err := m.getJSON(key, &ids); err != nil {
		return err
	}
	ids = append(ids, encodeHex(id[:]))
	return m.putJSON(key, ids)
}

func (m *Manager) readIndex(key []byte) ([][32]byte, error) {
	var ids []string
	if _, err := m.getJSON(key, &ids); err != nil {
		return nil, err
	}
	out := make([][32]byte, len(ids))
	for i, raw := range ids {
		if err := decodeHex32(raw, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt integer %q", raw)
	}
	return v, nil
}
