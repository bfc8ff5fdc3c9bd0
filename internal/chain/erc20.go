package chain

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Hand-packed ERC-20 calldata. Only three methods are needed, so the full abi
// bind machinery is not worth carrying.

var (
	selectorBalanceOf = methodID("balanceOf(address)")
	selectorAllowance = methodID("allowance(address,address)")
	selectorApprove   = methodID("approve(address,uint256)")
)

func methodID(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func leftPadAddress(addr common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], addr.Bytes())
	return out
}

func leftPadBig(value *big.Int) []byte {
	out := make([]byte, 32)
	value.FillBytes(out)
	return out
}

func BalanceOfData(owner common.Address) []byte {
	data := make([]byte, 0, 36)
	data = append(data, selectorBalanceOf...)
	return append(data, leftPadAddress(owner)...)
}

func AllowanceData(owner, spender common.Address) []byte {
	data := make([]byte, 0, 68)
	data = append(data, selectorAllowance...)
	data = append(data, leftPadAddress(owner)...)
	return append(data, leftPadAddress(spender)...)
}

func ApproveData(spender common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 68)
	data = append(data, selectorApprove...)
	data = append(data, leftPadAddress(spender)...)
	return append(data, leftPadBig(amount)...)
}

// ParseUint256 decodes a single uint256 return value.
func ParseUint256(ret []byte) (*big.Int, error) {
	if len(ret) < 32 {
		return nil, errors.New("short return data")
	}
	return new(big.Int).SetBytes(ret[:32]), nil
}
