package eth

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type account struct {
	balance *big.Int
	nonce   uint64
	code    []byte
	storage map[common.Hash]common.Hash
}

func (a *account) copy() *account {
	cp := &account{
		balance: new(big.Int).Set(a.balance),
		nonce:   a.nonce,
		code:    common.CopyBytes(a.code),
		storage: make(map[common.Hash]common.Hash, len(a.storage)),
	}
	for k, v := range a.storage {
		cp.storage[k] = v
	}
	return cp
}

// state is a world state snapshot. Sealed snapshots are never mutated.
type state map[common.Address]*account

func stateFromAlloc(alloc types.GenesisAlloc) state {
	s := make(state, len(alloc))
	for addr, acc := range alloc {
		a := &account{
			balance: new(big.Int),
			nonce:   acc.Nonce,
			code:    common.CopyBytes(acc.Code),
			storage: make(map[common.Hash]common.Hash, len(acc.Storage)),
		}
		if acc.Balance != nil {
			a.balance.Set(acc.Balance)
		}
		for k, v := range acc.Storage {
			if v != (common.Hash{}) {
				a.storage[k] = v
			}
		}
		s[addr] = a
	}
	return s
}

func (s state) copy() state {
	cp := make(state, len(s))
	for addr, a := range s {
		cp[addr] = a.copy()
	}
	return cp
}

// get returns the account at addr, creating it when create is set. Reads of
// missing accounts see an empty one.
func (s state) get(addr common.Address, create bool) *account {
	if a, ok := s[addr]; ok {
		return a
	}
	a := &account{balance: new(big.Int), storage: make(map[common.Hash]common.Hash)}
	if create {
		s[addr] = a
	}
	return a
}

func (s state) transfer(from, to common.Address, value *big.Int) error {
	if value == nil || value.Sign() == 0 {
		return nil
	}
	if value.Sign() < 0 {
		return ErrInvalidTransaction
	}
	src := s.get(from, true)
	if src.balance.Cmp(value) < 0 {
		return ErrInsufficientFunds
	}
	src.balance.Sub(src.balance, value)
	dst := s.get(to, true)
	dst.balance.Add(dst.balance, value)
	return nil
}

func (a *account) slots() []StorageSlot {
	slots := make([]StorageSlot, 0, len(a.storage))
	for k, v := range a.storage {
		slots = append(slots, StorageSlot{Key: k.Big(), Value: v.Big()})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Key.Cmp(slots[j].Key) < 0 })
	return slots
}
