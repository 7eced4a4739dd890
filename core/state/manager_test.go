package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"pollstake/native/poll"
	"pollstake/native/registry"
	"pollstake/storage"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func fillAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func fillID(fill byte) [32]byte {
	var id [32]byte
	for i := range id {
		id[i] = fill
	}
	return id
}

func TestAccountRoundTrip(t *testing.T) {
	m := testManager(t)
	addr := fillAddr(0x01)

	acc, err := m.GetAccount(addr[:])
	require.NoError(t, err)
	require.Zero(t, acc.Balance("VOTE").Sign())

	acc.Nonce = 7
	acc.SetBalance("VOTE", big.NewInt(1234))
	acc.SetBalance("GOLD", new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil))
	require.NoError(t, m.PutAccount(addr[:], acc))

	loaded, err := m.GetAccount(addr[:])
	require.NoError(t, err)
	require.Equal(t, uint64(7), loaded.Nonce)
	require.Zero(t, loaded.Balance("VOTE").Cmp(big.NewInt(1234)))
	require.Zero(t, loaded.Balance("GOLD").Cmp(acc.Balance("GOLD")))
}

func TestAccountCorruptBalance(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	addr := fillAddr(0x01)
	require.NoError(t, db.Put(append([]byte("account/"), addr[:]...), []byte(`{"nonce":1,"balances":{"VOTE":"not-a-number"}}`)))
	_, err := m.GetAccount(addr[:])
	require.Error(t, err)
}

func TestPollRoundTrip(t *testing.T) {
	m := testManager(t)
	p := &poll.Poll{
		ID:            fillID(0xAA),
		Creator:       fillAddr(0x01),
		Token:         "VOTE",
		StartTime:     100,
		EndTime:       200,
		StakePerVote:  big.NewInt(50),
		WinningSlots:  2,
		TotalOptions:  3,
		CreatedAt:     90,
		VotesByOption: []*big.Int{big.NewInt(200), big.NewInt(100), big.NewInt(0)},
		TotalStaked:   big.NewInt(300),
	}
	require.NoError(t, m.PollPut(p))

	loaded, ok, err := m.PollGet(p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p.ID, loaded.ID)
	require.Equal(t, p.Creator, loaded.Creator)
	require.Equal(t, "VOTE", loaded.Token)
	require.Zero(t, loaded.StakePerVote.Cmp(big.NewInt(50)))
	require.Len(t, loaded.VotesByOption, 3)
	require.Zero(t, loaded.VotesByOption[0].Cmp(big.NewInt(200)))
	require.Zero(t, loaded.TotalStaked.Cmp(big.NewInt(300)))
	require.False(t, loaded.WinnersCalculated)

	// Settlement fields survive an update in place.
	loaded.WinnersCalculated = true
	loaded.WinningOptions = []uint32{1, 2}
	loaded.WinningAmount = big.NewInt(300)
	loaded.FeeAmount = big.NewInt(15)
	loaded.CreatorClaimed = true
	require.NoError(t, m.PollPut(loaded))

	settled, ok, err := m.PollGet(p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, settled.WinnersCalculated)
	require.Equal(t, []uint32{1, 2}, settled.WinningOptions)
	require.Zero(t, settled.FeeAmount.Cmp(big.NewInt(15)))
	require.True(t, settled.CreatorClaimed)
	require.False(t, settled.FeeClaimed)
}

func TestPollGetMissing(t *testing.T) {
	m := testManager(t)
	loaded, ok, err := m.PollGet(fillID(0xFF))
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, loaded)
}

func TestVoterRoundTrip(t *testing.T) {
	m := testManager(t)
	rec := &poll.VoterRecord{
		Poll:     fillID(0xAA),
		Voter:    fillAddr(0x02),
		HasVoted: true,
		Option:   3,
	}
	require.NoError(t, m.VoterPut(rec))

	loaded, ok, err := m.VoterGet(rec.Poll, rec.Voter)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.Poll, loaded.Poll)
	require.Equal(t, rec.Voter, loaded.Voter)
	require.True(t, loaded.HasVoted)
	require.Equal(t, uint32(3), loaded.Option)
	require.False(t, loaded.StakeSettled)

	// Records are scoped per poll and per voter.
	_, ok, err = m.VoterGet(fillID(0xBB), rec.Voter)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = m.VoterGet(rec.Poll, fillAddr(0x03))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVoterListScopedToPoll(t *testing.T) {
	m := testManager(t)
	pollID := fillID(0xAA)
	for i := byte(0); i < 3; i++ {
		require.NoError(t, m.VoterPut(&poll.VoterRecord{
			Poll:     pollID,
			Voter:    fillAddr(0x10 + i),
			HasVoted: true,
			Option:   uint32(i + 1),
		}))
	}
	require.NoError(t, m.VoterPut(&poll.VoterRecord{
		Poll:     fillID(0xBB),
		Voter:    fillAddr(0x10),
		HasVoted: true,
		Option:   1,
	}))

	records, err := m.VoterList(pollID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	seen := make(map[[20]byte]uint32)
	for _, rec := range records {
		require.Equal(t, pollID, rec.Poll)
		seen[rec.Voter] = rec.Option
	}
	for i := byte(0); i < 3; i++ {
		require.Equal(t, uint32(i+1), seen[fillAddr(0x10+i)])
	}

	empty, err := m.VoterList(fillID(0xCC))
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestPolicyRoundTrip(t *testing.T) {
	m := testManager(t)

	_, ok, err := m.PolicyGet()
	require.NoError(t, err)
	require.False(t, ok)

	p := &registry.Policy{
		Admin:           fillAddr(0xAD),
		FeeRecipient:    fillAddr(0xFE),
		RescueRecipient: fillAddr(0xEC),
		FeeRateBps:      500,
	}
	require.NoError(t, m.PolicyPut(p))

	loaded, ok, err := m.PolicyGet()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p.Admin, loaded.Admin)
	require.Equal(t, p.FeeRecipient, loaded.FeeRecipient)
	require.Equal(t, p.RescueRecipient, loaded.RescueRecipient)
	require.Equal(t, uint32(500), loaded.FeeRateBps)
}

func TestRegistryNonceIsMonotonic(t *testing.T) {
	m := testManager(t)
	for want := uint64(1); want <= 5; want++ {
		nonce, err := m.RegistryNextNonce()
		require.NoError(t, err)
		require.Equal(t, want, nonce)
	}
}

func TestRegistryIndexesPreserveOrder(t *testing.T) {
	m := testManager(t)
	alice := fillAddr(0x01)
	bob := fillAddr(0x02)
	first := fillID(0x0A)
	second := fillID(0x0B)
	third := fillID(0x0C)

	require.NoError(t, m.RegistryAppendPoll(first, alice))
	require.NoError(t, m.RegistryAppendPoll(second, bob))
	require.NoError(t, m.RegistryAppendPoll(third, alice))

	all, err := m.RegistryPolls()
	require.NoError(t, err)
	require.Equal(t, [][32]byte{first, second, third}, all)

	mine, err := m.RegistryPollsByCreator(alice)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{first, third}, mine)

	theirs, err := m.RegistryPollsByCreator(bob)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{second}, theirs)

	empty, err := m.RegistryPollsByCreator(fillAddr(0x03))
	require.NoError(t, err)
	require.Empty(t, empty)
}
