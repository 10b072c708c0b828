package nn

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/ChizhovVadim/ecgpretrain/internal/ml"
)

var (
	ErrBadMagic       = errors.New("weights: magic word does not match")
	ErrVersion        = errors.New("weights: binary format is not supported")
	ErrShapeMismatch  = errors.New("weights: parameter shape mismatch")
	ErrParamsMismatch = errors.New("weights: parameter count mismatch")
	weightsMagic      = [4]byte{69, 87, 1, 0}
	maxParamDimension = uint32(1 << 28)
)

// Binary specification for the weights file:
// - All the data is stored in little-endian layout
// - All the matrices are written in column-major
// - The magic number/version consists of 4 bytes:
//   - 69 (which is the ASCII code for E), uint8
//   - 87 (which is the ASCII code for W), uint8
//   - 1 The major part of the current version number, uint8
//   - 0 The minor part of the current version number, uint8
//
// - 4 bytes (uint32) number of matrices
// - for every matrix: 4 bytes rows, 4 bytes cols, then rows*cols float32 values
func WriteParams(w io.Writer, params []*ml.Matrix) error {
	var bw = bufio.NewWriter(w)
	_, err := bw.Write(weightsMagic[:])
	if err != nil {
		return err
	}
	var buf = make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(params)))
	_, err = bw.Write(buf)
	if err != nil {
		return err
	}
	for _, p := range params {
		binary.LittleEndian.PutUint32(buf, uint32(p.Rows))
		if _, err = bw.Write(buf); err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf, uint32(p.Cols))
		if _, err = bw.Write(buf); err != nil {
			return err
		}
		if err = writeSlice(bw, p.Data); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadParams fills params in place. Thread copies share the backing arrays,
// so loaded values become visible to them too. Pass a *bufio.Reader to read
// several parameter sections from one stream.
func ReadParams(r io.Reader, params []*ml.Matrix) error {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	var buf = make([]byte, 4)
	if _, err := io.ReadFull(br, buf); err != nil {
		return err
	}
	if buf[0] != weightsMagic[0] || buf[1] != weightsMagic[1] {
		return ErrBadMagic
	}
	if buf[2] != weightsMagic[2] || buf[3] != weightsMagic[3] {
		return ErrVersion
	}

	if _, err := io.ReadFull(br, buf); err != nil {
		return err
	}
	var count = int(binary.LittleEndian.Uint32(buf))
	if count != len(params) {
		return fmt.Errorf("%w: file has %v, model has %v", ErrParamsMismatch, count, len(params))
	}

	for i, p := range params {
		if _, err := io.ReadFull(br, buf); err != nil {
			return err
		}
		var rows = binary.LittleEndian.Uint32(buf)
		if _, err := io.ReadFull(br, buf); err != nil {
			return err
		}
		var cols = binary.LittleEndian.Uint32(buf)
		if rows > maxParamDimension || cols > maxParamDimension ||
			int(rows) != p.Rows || int(cols) != p.Cols {
			return fmt.Errorf("%w: param %v is %vx%v, model expects %vx%v",
				ErrShapeMismatch, i, rows, cols, p.Rows, p.Cols)
		}
		for j := range p.Data {
			if _, err := io.ReadFull(br, buf); err != nil {
				return err
			}
			p.Data[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
		}
	}
	return nil
}

func writeSlice(f io.Writer, data []float64) error {
	buf := make([]byte, 4)
	for j := range data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(data[j])))
		_, err := f.Write(buf)
		if err != nil {
			return err
		}
	}
	return nil
}
