// Canonical Store key layout and binary encoding. Keys are plain byte
// strings so range scans (audit log replay) work against any ordered KV;
// values use a deterministic fixed-width/length-prefixed format so two
// encodings of the same record always hash identically (required by the
// audit log's before/after digests).
package types

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/nitroxgas/utxolend/crypto"
)

const (
	reserveKeyPrefix = "reserve/"
	supplyKeyPrefix  = "supply/"
	debtKeyPrefix    = "debt/"
	auditKeyPrefix   = "audit/"
	intentKeyPrefix  = "intent/"
)

// ReserveKey returns the Store key for a reserve record.
func ReserveKey(asset AssetID) []byte {
	return append([]byte(reserveKeyPrefix), asset[:]...)
}

// SupplyKey returns the Store key for a supply position record.
func SupplyKey(id [32]byte) []byte {
	return append([]byte(supplyKeyPrefix), id[:]...)
}

// DebtKey returns the Store key for a debt position record.
func DebtKey(id [32]byte) []byte {
	return append([]byte(debtKeyPrefix), id[:]...)
}

// AuditKey returns the Store key for an audit log entry, big-endian encoded
// so lexicographic key order matches sequence order for range scans.
func AuditKey(seq uint64) []byte {
	key := make([]byte, len(auditKeyPrefix)+8)
	copy(key, auditKeyPrefix)
	binary.BigEndian.PutUint64(key[len(auditKeyPrefix):], seq)
	return key
}

// IntentKey returns the Store key used for the intent deduplication window.
func IntentKey(intentID [16]byte) []byte {
	return append([]byte(intentKeyPrefix), intentID[:]...)
}

func putUint64(buf []byte, v uint64) {
	binary.BigEndian.PutUint64(buf, v)
}

func putUint256(buf []byte, v *uint256.Int) {
	if v == nil {
		v = new(uint256.Int)
	}
	b := v.Bytes32()
	copy(buf, b[:])
}

func getUint256(buf []byte) *uint256.Int {
	var arr [32]byte
	copy(arr[:], buf)
	return new(uint256.Int).SetBytes32(arr[:])
}

func putBytes(dst []byte, b []byte) int {
	binary.BigEndian.PutUint32(dst, uint32(len(b)))
	copy(dst[4:], b)
	return 4 + len(b)
}

func getBytes(src []byte) ([]byte, int, error) {
	if len(src) < 4 {
		return nil, 0, fmt.Errorf("types: truncated length prefix")
	}
	n := int(binary.BigEndian.Uint32(src))
	if len(src) < 4+n {
		return nil, 0, fmt.Errorf("types: truncated byte string")
	}
	out := append([]byte(nil), src[4:4+n]...)
	return out, 4 + n, nil
}

// reserveRecordFixedLen = assetID(32) + 14 RAY words(32 each, incl.
// Slope2 and OptimalUtilization) + timestamp(8) + protoBps(4) + devBps(4) +
// devAddr(20) + 5 pause flags(1 each) + utilBps(4) + capTotal/protoFees/
// devFees(32 each).
const reserveRecordFixedLen = 32 + 32*14 + 8 + 4 + 4 + 20 + 5 + 4 + 32 + 32 + 32

// EncodeReserve serializes a Reserve into the canonical fixed-width format.
func EncodeReserve(r *Reserve) []byte {
	buf := make([]byte, 0, reserveRecordFixedLen)
	buf = append(buf, r.AssetID[:]...)
	for _, v := range []*uint256.Int{
		r.TotalLiquidity, r.TotalBorrowed, r.LiquidityIndex, r.BorrowIndex,
		r.LiquidityRate, r.BorrowRate, r.ReserveFactor, r.Ltv,
		r.LiquidationThreshold, r.LiquidationBonus, r.BaseRate, r.Slope1,
		r.Slope2,
	} {
		var word [32]byte
		putUint256(word[:], v)
		buf = append(buf, word[:]...)
	}
	var optimal [32]byte
	putUint256(optimal[:], r.OptimalUtilization)
	buf = append(buf, optimal[:]...)

	var ts [8]byte
	putUint64(ts[:], r.LastUpdateTimestamp)
	buf = append(buf, ts[:]...)

	var protoBps, devBps [4]byte
	binary.BigEndian.PutUint32(protoBps[:], r.ProtocolFeeBps)
	binary.BigEndian.PutUint32(devBps[:], r.DeveloperFeeBps)
	buf = append(buf, protoBps[:]...)
	buf = append(buf, devBps[:]...)

	devAddr := r.DeveloperFeeAddr.Bytes()
	if len(devAddr) != 20 {
		devAddr = make([]byte, 20)
	}
	buf = append(buf, devAddr...)

	buf = append(buf, boolByte(r.CircuitBreaker.Supply), boolByte(r.CircuitBreaker.Withdraw),
		boolByte(r.CircuitBreaker.Borrow), boolByte(r.CircuitBreaker.Repay),
		boolByte(r.CircuitBreaker.Liquidate))

	var utilBps [4]byte
	binary.BigEndian.PutUint32(utilBps[:], r.BorrowCaps.UtilizationBps)
	buf = append(buf, utilBps[:]...)

	var capTotal, protoFees, devFees [32]byte
	putUint256(capTotal[:], r.BorrowCaps.Total)
	putUint256(protoFees[:], r.Fees.ProtocolFees)
	putUint256(devFees[:], r.Fees.DeveloperFees)
	buf = append(buf, capTotal[:]...)
	buf = append(buf, protoFees[:]...)
	buf = append(buf, devFees[:]...)

	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// DecodeReserve parses the canonical encoding produced by EncodeReserve.
func DecodeReserve(data []byte) (*Reserve, error) {
	if len(data) != reserveRecordFixedLen {
		return nil, fmt.Errorf("types: reserve record has unexpected length %d", len(data))
	}
	r := &Reserve{}
	off := 0
	copy(r.AssetID[:], data[off:off+32])
	off += 32

	fields := []**uint256.Int{
		&r.TotalLiquidity, &r.TotalBorrowed, &r.LiquidityIndex, &r.BorrowIndex,
		&r.LiquidityRate, &r.BorrowRate, &r.ReserveFactor, &r.Ltv,
		&r.LiquidationThreshold, &r.LiquidationBonus, &r.BaseRate, &r.Slope1,
		&r.Slope2,
	}
	for _, f := range fields {
		*f = getUint256(data[off : off+32])
		off += 32
	}
	r.OptimalUtilization = getUint256(data[off : off+32])
	off += 32

	r.LastUpdateTimestamp = binary.BigEndian.Uint64(data[off : off+8])
	off += 8

	r.ProtocolFeeBps = binary.BigEndian.Uint32(data[off : off+4])
	off += 4
	r.DeveloperFeeBps = binary.BigEndian.Uint32(data[off : off+4])
	off += 4

	addr, err := NewAddressFromBytes(data[off : off+20])
	if err != nil {
		return nil, err
	}
	r.DeveloperFeeAddr = addr
	off += 20

	r.CircuitBreaker = ActionPauses{
		Supply:    data[off] == 1,
		Withdraw:  data[off+1] == 1,
		Borrow:    data[off+2] == 1,
		Repay:     data[off+3] == 1,
		Liquidate: data[off+4] == 1,
	}
	off += 5

	r.BorrowCaps.UtilizationBps = binary.BigEndian.Uint32(data[off : off+4])
	off += 4

	r.BorrowCaps.Total = getUint256(data[off : off+32])
	off += 32
	r.Fees.ProtocolFees = getUint256(data[off : off+32])
	off += 32
	r.Fees.DeveloperFees = getUint256(data[off : off+32])
	off += 32

	return r, nil
}

// EncodeSupplyPosition serializes a SupplyPosition canonically.
func EncodeSupplyPosition(p *SupplyPosition) []byte {
	userBytes := p.User.Bytes()
	if len(userBytes) != 20 {
		userBytes = make([]byte, 20)
	}
	buf := make([]byte, 0, 32+20+32+32+32+8)
	buf = append(buf, p.ID[:]...)
	buf = append(buf, userBytes...)
	buf = append(buf, p.AssetID[:]...)
	var aToken, snap [32]byte
	putUint256(aToken[:], p.ATokenAmount)
	putUint256(snap[:], p.LiquidityIndexAtSupply)
	buf = append(buf, aToken[:]...)
	buf = append(buf, snap[:]...)
	var ts [8]byte
	putUint64(ts[:], p.CreatedAt)
	buf = append(buf, ts[:]...)
	return buf
}

// DecodeSupplyPosition parses the canonical encoding produced by
// EncodeSupplyPosition.
func DecodeSupplyPosition(data []byte) (*SupplyPosition, error) {
	const want = 32 + 20 + 32 + 32 + 32 + 8
	if len(data) != want {
		return nil, fmt.Errorf("types: supply position record has unexpected length %d", len(data))
	}
	p := &SupplyPosition{}
	off := 0
	copy(p.ID[:], data[off:off+32])
	off += 32
	addr, err := NewAddressFromBytes(data[off : off+20])
	if err != nil {
		return nil, err
	}
	p.User = addr
	off += 20
	copy(p.AssetID[:], data[off:off+32])
	off += 32
	p.ATokenAmount = getUint256(data[off : off+32])
	off += 32
	p.LiquidityIndexAtSupply = getUint256(data[off : off+32])
	off += 32
	p.CreatedAt = binary.BigEndian.Uint64(data[off : off+8])
	return p, nil
}

// NewAddressFromBytes wraps crypto.NewAddress with the account namespace,
// used when decoding persisted records whose prefix is not carried on the
// wire (only the 20 raw bytes are stored).
func NewAddressFromBytes(b []byte) (Address, error) {
	return crypto.NewAddress(crypto.AccountPrefix, b)
}

const debtRecordFixedLen = 32 + 20 + 32 + 32 + 32 + 32 + 32 + 8 + 1 + (4 + 4 + 20 + 4 + 20)

// EncodeDebtPosition serializes a DebtPosition canonically.
func EncodeDebtPosition(d *DebtPosition) []byte {
	userBytes := d.User.Bytes()
	if len(userBytes) != 20 {
		userBytes = make([]byte, 20)
	}
	buf := make([]byte, 0, debtRecordFixedLen)
	buf = append(buf, d.ID[:]...)
	buf = append(buf, userBytes...)
	buf = append(buf, d.BorrowedAssetID[:]...)
	buf = append(buf, d.CollateralAssetID[:]...)
	var principal, idx, collat [32]byte
	putUint256(principal[:], d.Principal)
	putUint256(idx[:], d.BorrowIndexAtOpen)
	putUint256(collat[:], d.CollateralAmount)
	buf = append(buf, principal[:]...)
	buf = append(buf, idx[:]...)
	buf = append(buf, collat[:]...)
	var ts [8]byte
	putUint64(ts[:], d.CreatedAt)
	buf = append(buf, ts[:]...)

	if d.Routing == nil {
		buf = append(buf, 0)
		buf = append(buf, make([]byte, 4+4+20+4+20)...)
		return buf
	}
	buf = append(buf, 1)
	var liquidatorBps, devBps, protoBps [4]byte
	binary.BigEndian.PutUint32(liquidatorBps[:], d.Routing.LiquidatorBps)
	binary.BigEndian.PutUint32(devBps[:], d.Routing.DeveloperBps)
	binary.BigEndian.PutUint32(protoBps[:], d.Routing.ProtocolBps)
	buf = append(buf, liquidatorBps[:]...)
	buf = append(buf, devBps[:]...)
	devTarget := d.Routing.DeveloperTarget.Bytes()
	if len(devTarget) != 20 {
		devTarget = make([]byte, 20)
	}
	buf = append(buf, devTarget...)
	buf = append(buf, protoBps[:]...)
	protoTarget := d.Routing.ProtocolTarget.Bytes()
	if len(protoTarget) != 20 {
		protoTarget = make([]byte, 20)
	}
	buf = append(buf, protoTarget...)
	return buf
}

// DecodeDebtPosition parses the canonical encoding produced by
// EncodeDebtPosition.
func DecodeDebtPosition(data []byte) (*DebtPosition, error) {
	if len(data) != debtRecordFixedLen {
		return nil, fmt.Errorf("types: debt position record has unexpected length %d", len(data))
	}
	d := &DebtPosition{}
	off := 0
	copy(d.ID[:], data[off:off+32])
	off += 32
	addr, err := NewAddressFromBytes(data[off : off+20])
	if err != nil {
		return nil, err
	}
	d.User = addr
	off += 20
	copy(d.BorrowedAssetID[:], data[off:off+32])
	off += 32
	copy(d.CollateralAssetID[:], data[off:off+32])
	off += 32
	d.Principal = getUint256(data[off : off+32])
	off += 32
	d.BorrowIndexAtOpen = getUint256(data[off : off+32])
	off += 32
	d.CollateralAmount = getUint256(data[off : off+32])
	off += 32
	d.CreatedAt = binary.BigEndian.Uint64(data[off : off+8])
	off += 8

	hasRouting := data[off] == 1
	off++
	if hasRouting {
		routing := &CollateralRouting{}
		routing.LiquidatorBps = binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		routing.DeveloperBps = binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		devTarget, err := NewAddressFromBytes(data[off : off+20])
		if err != nil {
			return nil, err
		}
		routing.DeveloperTarget = devTarget
		off += 20
		routing.ProtocolBps = binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		protoTarget, err := NewAddressFromBytes(data[off : off+20])
		if err != nil {
			return nil, err
		}
		routing.ProtocolTarget = protoTarget
		off += 20
		d.Routing = routing
	}
	return d, nil
}
