package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"Invoke-Chain/pkg/invoke"
)

// Registrar is where the chain functions are registered.
type Registrar interface {
	Register(fn *invoke.Function) error
}

// Functions describes the chain queries served by r. Every function takes an
// optional "chain" name selecting the endpoint.
func Functions(r *Registry) []*invoke.Function {
	chainParam := invoke.Optional("chain", "")
	return []*invoke.Function{
		invoke.MustDescribe("chain.snapshot", func(ctx context.Context, chain string) (Snapshot, error) {
			c, err := r.Client(chain)
			if err != nil {
				return Snapshot{}, err
			}
			return c.Snapshot(ctx)
		}, invoke.Arg("ctx"), chainParam),

		invoke.MustDescribe("chain.balance", func(ctx context.Context, chain string, address common.Address, block *big.Int) (string, error) {
			c, err := r.Client(chain)
			if err != nil {
				return "", err
			}
			balance, err := c.Balance(ctx, address, block)
			if err != nil {
				return "", err
			}
			return balance.String(), nil
		}, invoke.Arg("ctx"), chainParam, invoke.Arg("address"), invoke.Nullable("block")),

		invoke.MustDescribe("chain.nonce", func(ctx context.Context, chain string, address common.Address) (uint64, error) {
			c, err := r.Client(chain)
			if err != nil {
				return 0, err
			}
			return c.Nonce(ctx, address)
		}, invoke.Arg("ctx"), chainParam, invoke.Arg("address")),

		invoke.MustDescribe("chain.receipt", func(ctx context.Context, chain string, tx common.Hash) (Receipt, error) {
			c, err := r.Client(chain)
			if err != nil {
				return Receipt{}, err
			}
			return c.Receipt(ctx, tx)
		}, invoke.Arg("ctx"), chainParam, invoke.Arg("tx")),
	}
}

// RegisterFunctions registers Functions(r) with dst.
func RegisterFunctions(dst Registrar, r *Registry) error {
	for _, fn := range Functions(r) {
		if err := dst.Register(fn); err != nil {
			return err
		}
	}
	return nil
}
