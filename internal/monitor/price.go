package monitor

import "math/big"

// q192 = 2^192, the fixed-point divisor for Uniswap sqrtPriceX96 values.
var q192 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 192))

// Slot0 is the unpacked v4 pool slot0 word.
type Slot0 struct {
	SqrtPriceX96 *big.Int
	Tick         int32
	ProtocolFee  uint32
	LPFee        uint32
}

// UnpackSlot0 splits the packed slot0 storage word: sqrtPriceX96 in the low
// 160 bits, a signed 24-bit tick, then two 24-bit fee fields.
func UnpackSlot0(packed *big.Int) Slot0 {
	mask160 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
	mask24 := big.NewInt(1<<24 - 1)

	sqrtPrice := new(big.Int).And(packed, mask160)

	tickBits := new(big.Int).And(new(big.Int).Rsh(packed, 160), mask24).Int64()
	if tickBits&(1<<23) != 0 {
		tickBits -= 1 << 24
	}

	protocolFee := new(big.Int).And(new(big.Int).Rsh(packed, 184), mask24).Uint64()
	lpFee := new(big.Int).And(new(big.Int).Rsh(packed, 208), mask24).Uint64()

	return Slot0{
		SqrtPriceX96: sqrtPrice,
		Tick:         int32(tickBits),
		ProtocolFee:  uint32(protocolFee),
		LPFee:        uint32(lpFee),
	}
}

// PriceFromSqrtX96 converts a sqrtPriceX96 value to a price ratio:
// sqrtPriceX96^2 / 2^192.
func PriceFromSqrtX96(sqrtPriceX96 *big.Int) float64 {
	sq := new(big.Float).SetInt(new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96))
	out, _ := new(big.Float).Quo(sq, q192).Float64()
	return out
}

// TokenUSDPrice combines the token/WETH pool ratio with the WETH/USD pool
// ratio (scaled by 1e12 for the decimal difference) into a USD price.
func TokenUSDPrice(tokenPoolPrice, usdPoolPrice float64) float64 {
	if tokenPoolPrice == 0 {
		return 0
	}
	return usdPoolPrice * 1e12 / tokenPoolPrice
}
