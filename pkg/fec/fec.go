// Package fec implements the systematic Reed-Solomon block code behind
// FrameCodec (frame.go): reconstructing a frame from any nOriginal of
// its nOriginal+nFEC fragments (spec.md §3, §4.1). The Galois-field
// engine in this file is an internal detail of FrameCodec — nothing
// outside this package touches a shardCodec directly.
package fec

import (
	"errors"
	"sync"
)

const (
	// galoisBits is the field width in bits: GF(2^8).
	galoisBits = 8
	// galoisPoly is the primitive polynomial for GF(2^8).
	galoisPoly = "101110001"
	// galoisOrder is 2^galoisBits - 1, the field's nonzero element count.
	galoisOrder = (1 << galoisBits) - 1
	// MaxTotalShards bounds nOriginal+nFEC for any one frame.
	MaxTotalShards = 255
)

var (
	// ErrTooManyShards is returned when nOriginal+nFEC exceeds
	// MaxTotalShards, or when nOriginal or nFEC is not positive.
	ErrTooManyShards = errors.New("fec: too many shards for one frame")
	// ErrNotEnoughShards is returned when fewer than nOriginal shards
	// (original or parity) are present to reconstruct a frame.
	ErrNotEnoughShards = errors.New("fec: not enough shards to reconstruct frame")
	// ErrInvalidShardSize is returned when shard slices disagree in
	// length or count against the codec's configured geometry.
	ErrInvalidShardSize = errors.New("fec: invalid shard size or count")
)

// galoisElem is one element of GF(2^8).
type galoisElem = uint8

// galois tables are process-global and built once: they depend only on
// the field's primitive polynomial, never on a particular frame's
// shard geometry.
var (
	expTable  [2 * galoisOrder]galoisElem
	logTable  [galoisOrder + 1]int
	invTable  [galoisOrder + 1]galoisElem
	mulTable  [(galoisOrder + 1) * (galoisOrder + 1)]galoisElem

	tablesOnce sync.Once
)

// shardCodec is the Vandermonde-matrix Reed-Solomon engine for one
// frame's nOriginal/nFEC split. FrameCodec is the only thing that
// constructs or calls one.
type shardCodec struct {
	nOriginal  int
	nFEC       int
	nTotal     int
	encodeRows []galoisElem // full encode matrix, nTotal x nOriginal
	parityRows []galoisElem // the nFEC rows of encodeRows that produce parity
}

// Init builds the Galois-field tables. Safe to call repeatedly and
// from multiple goroutines; the tables are built exactly once.
func Init() {
	tablesOnce.Do(func() {
		buildGaloisTables()
		buildMulTable()
	})
}

// newShardCodec builds the encode/parity matrices for a frame shaped
// nOriginal data fragments plus nFEC parity fragments.
func newShardCodec(nOriginal, nFEC int) (*shardCodec, error) {
	Init()

	nTotal := nOriginal + nFEC
	if nTotal > MaxTotalShards || nOriginal <= 0 || nFEC <= 0 {
		return nil, ErrTooManyShards
	}

	sc := &shardCodec{nOriginal: nOriginal, nFEC: nFEC, nTotal: nTotal}

	// Identity submatrix on top (the nOriginal data rows pass through
	// unmodified) stacked over nFEC Cauchy rows (the parity rows).
	vandermonde := make([]galoisElem, nOriginal*nTotal)
	for row := 0; row < nTotal; row++ {
		for col := 0; col < nOriginal; col++ {
			if row == col {
				vandermonde[row*nOriginal+col] = 1
			}
		}
	}

	top := extractBlock(vandermonde, 0, 0, nOriginal, nOriginal, nTotal, nOriginal)
	if err := invertMatrix(top, nOriginal); err != nil {
		return nil, err
	}

	sc.encodeRows = multiplyMatrices(vandermonde, nTotal, nOriginal, top, nOriginal, nOriginal)

	for j := 0; j < nFEC; j++ {
		for i := 0; i < nOriginal; i++ {
			sc.encodeRows[(nOriginal+j)*nOriginal+i] = invTable[(nFEC+i)^j]
		}
	}

	sc.parityRows = extractBlock(sc.encodeRows, nOriginal, 0, nTotal, nOriginal, nTotal, nOriginal)
	return sc, nil
}

// encode fills shards[nOriginal:] with parity computed from shards[:nOriginal].
func (sc *shardCodec) encode(shards [][]byte) error {
	if len(shards) != sc.nTotal {
		return ErrInvalidShardSize
	}
	shardSize := len(shards[0])
	for _, s := range shards {
		if len(s) != shardSize {
			return ErrInvalidShardSize
		}
	}
	codeShards(sc.parityRows, shards[:sc.nOriginal], shards[sc.nOriginal:], sc.nOriginal, sc.nFEC, shardSize)
	return nil
}

// reconstruct fills in any missing shards among shards[:nOriginal] using
// whichever original and parity shards present marks as available.
func (sc *shardCodec) reconstruct(shards [][]byte, present []bool) error {
	if len(shards) != sc.nTotal || len(present) != sc.nTotal {
		return ErrInvalidShardSize
	}

	shardSize := 0
	for i, s := range shards {
		if !present[i] {
			continue
		}
		if shardSize == 0 {
			shardSize = len(s)
		} else if len(s) != shardSize {
			return ErrInvalidShardSize
		}
	}
	if shardSize == 0 {
		return ErrNotEnoughShards
	}

	var missing []int
	for i := 0; i < sc.nOriginal; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var availableParity []int
	var parityShards [][]byte
	for i := sc.nOriginal; i < sc.nTotal && len(availableParity) < len(missing); i++ {
		if present[i] {
			availableParity = append(availableParity, i-sc.nOriginal)
			parityShards = append(parityShards, shards[i])
		}
	}
	if len(availableParity) < len(missing) {
		return ErrNotEnoughShards
	}

	decodeRows := make([]galoisElem, sc.nOriginal*sc.nOriginal)
	inputs := make([][]byte, sc.nOriginal)

	row := 0
	nextMissing := 0
	for i := 0; i < sc.nOriginal; i++ {
		if nextMissing < len(missing) && i == missing[nextMissing] {
			nextMissing++
			continue
		}
		copy(decodeRows[row*sc.nOriginal:(row+1)*sc.nOriginal], sc.encodeRows[i*sc.nOriginal:(i+1)*sc.nOriginal])
		inputs[row] = shards[i]
		row++
	}
	for i := 0; i < len(missing) && row < sc.nOriginal; i++ {
		parityRow := sc.nOriginal + availableParity[i]
		copy(decodeRows[row*sc.nOriginal:(row+1)*sc.nOriginal], sc.encodeRows[parityRow*sc.nOriginal:(parityRow+1)*sc.nOriginal])
		inputs[row] = parityShards[i]
		row++
	}

	if err := invertMatrix(decodeRows, sc.nOriginal); err != nil {
		return err
	}

	outputs := make([][]byte, len(missing))
	for i, idx := range missing {
		if shards[idx] == nil {
			shards[idx] = make([]byte, shardSize)
		}
		outputs[i] = shards[idx]
		copy(decodeRows[i*sc.nOriginal:], decodeRows[idx*sc.nOriginal:(idx+1)*sc.nOriginal])
	}
	codeShards(decodeRows, inputs, outputs, sc.nOriginal, len(missing), shardSize)
	return nil
}

// The remainder of this file is GF(2^8) linear algebra: table
// construction, matrix inversion via Gauss-Jordan elimination, and the
// multiply-accumulate shard coding loop. This math has no domain
// hooks to adapt — any correct systematic Reed-Solomon implementation
// over this field computes the same tables and the same elimination
// steps (see DESIGN.md's pkg/fec entry for why this portion is kept
// close to the reference arithmetic rather than restructured further).

func galoisReduce(x int) galoisElem {
	for x >= galoisOrder {
		x -= galoisOrder
		x = (x >> galoisBits) + (x & galoisOrder)
	}
	return galoisElem(x)
}

func buildGaloisTables() {
	var mask galoisElem = 1
	expTable[galoisBits] = 0

	for i := 0; i < galoisBits; i++ {
		expTable[i] = mask
		logTable[expTable[i]] = i
		if galoisPoly[i] == '1' {
			expTable[galoisBits] ^= mask
		}
		mask <<= 1
	}

	logTable[expTable[galoisBits]] = galoisBits
	mask = 1 << (galoisBits - 1)

	for i := galoisBits + 1; i < galoisOrder; i++ {
		if expTable[i-1] >= mask {
			expTable[i] = expTable[galoisBits] ^ ((expTable[i-1] ^ mask) << 1)
		} else {
			expTable[i] = expTable[i-1] << 1
		}
		logTable[expTable[i]] = i
	}
	logTable[0] = galoisOrder

	for i := 0; i < galoisOrder; i++ {
		expTable[i+galoisOrder] = expTable[i]
	}

	invTable[0] = 0
	invTable[1] = 1
	for i := 2; i <= galoisOrder; i++ {
		invTable[i] = expTable[galoisOrder-logTable[i]]
	}
}

func buildMulTable() {
	for i := 0; i < galoisOrder+1; i++ {
		for j := 0; j < galoisOrder+1; j++ {
			mulTable[(i<<8)+j] = expTable[galoisReduce(logTable[i]+logTable[j])]
		}
	}
	for j := 0; j < galoisOrder+1; j++ {
		mulTable[j] = 0
		mulTable[j<<8] = 0
	}
}

func galoisMul(x, y galoisElem) galoisElem {
	return mulTable[(int(x)<<8)+int(y)]
}

func addScaled(dst, src []galoisElem, c galoisElem) {
	if c == 0 {
		return
	}
	row := mulTable[int(c)<<8:]
	for i := range dst {
		dst[i] ^= row[src[i]]
	}
}

func setScaled(dst, src []galoisElem, c galoisElem) {
	if c == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	row := mulTable[int(c)<<8:]
	for i := range dst {
		dst[i] = row[src[i]]
	}
}

var errSingularMatrix = errors.New("fec: singular coding matrix")

func invertMatrix(src []galoisElem, k int) error {
	colPivot := make([]int, k)
	rowPivot := make([]int, k)
	used := make([]int, k)
	idRow := make([]galoisElem, k)

	for col := 0; col < k; col++ {
		irow, icol := -1, -1

		if used[col] != 1 && src[col*k+col] != 0 {
			irow, icol = col, col
		} else {
			for row := 0; row < k && icol == -1; row++ {
				if used[row] != 1 {
					for ix := 0; ix < k; ix++ {
						if used[ix] == 0 && src[row*k+ix] != 0 {
							irow, icol = row, ix
							break
						}
					}
				}
			}
		}
		if icol == -1 {
			return errSingularMatrix
		}
		used[icol]++

		if irow != icol {
			for ix := 0; ix < k; ix++ {
				src[irow*k+ix], src[icol*k+ix] = src[icol*k+ix], src[irow*k+ix]
			}
		}
		rowPivot[col], colPivot[col] = irow, icol

		pivotRow := src[icol*k : (icol+1)*k]
		c := pivotRow[icol]
		if c == 0 {
			return errSingularMatrix
		}
		if c != 1 {
			c = invTable[c]
			pivotRow[icol] = 1
			for ix := 0; ix < k; ix++ {
				pivotRow[ix] = galoisMul(c, pivotRow[ix])
			}
		}

		idRow[icol] = 1
		pivotIsIdentity := true
		for ix := 0; ix < k; ix++ {
			if pivotRow[ix] != idRow[ix] {
				pivotIsIdentity = false
				break
			}
		}
		if !pivotIsIdentity {
			for ix := 0; ix < k; ix++ {
				if ix == icol {
					continue
				}
				row := src[ix*k : (ix+1)*k]
				c := row[icol]
				row[icol] = 0
				addScaled(row, pivotRow, c)
			}
		}
		idRow[icol] = 0
	}

	for col := k - 1; col >= 0; col-- {
		if rowPivot[col] != colPivot[col] {
			for row := 0; row < k; row++ {
				src[row*k+rowPivot[col]], src[row*k+colPivot[col]] = src[row*k+colPivot[col]], src[row*k+rowPivot[col]]
			}
		}
	}
	return nil
}

func extractBlock(matrix []galoisElem, rmin, cmin, rmax, cmax, _, ncolsSrc int) []galoisElem {
	block := make([]galoisElem, (rmax-rmin)*(cmax-cmin))
	ptr := 0
	for i := rmin; i < rmax; i++ {
		for j := cmin; j < cmax; j++ {
			block[ptr] = matrix[i*ncolsSrc+j]
			ptr++
		}
	}
	return block
}

func multiplyMatrices(a []galoisElem, ar, ac int, b []galoisElem, br, bc int) []galoisElem {
	if ac != br {
		return nil
	}
	out := make([]galoisElem, ar*bc)
	for r := 0; r < ar; r++ {
		for c := 0; c < bc; c++ {
			var acc galoisElem
			for i := 0; i < ac; i++ {
				acc ^= galoisMul(a[r*ac+i], b[i*bc+c])
			}
			out[r*bc+c] = acc
		}
	}
	return out
}

// codeShards computes outputs[i] = sum_c matrixRows[i][c] * inputs[c]
// over GF(2^8), for every output row at once. This is the hot loop for
// both encode (building parity) and reconstruct (recovering missing
// originals).
func codeShards(matrixRows []galoisElem, inputs, outputs [][]byte, nInputs, nOutputs, shardSize int) {
	for c := 0; c < nInputs; c++ {
		in := inputs[c]
		for row := 0; row < nOutputs; row++ {
			coeff := matrixRows[row*nInputs+c]
			if c == 0 {
				setScaled(outputs[row], in, coeff)
			} else {
				addScaled(outputs[row], in, coeff)
			}
		}
	}
}
