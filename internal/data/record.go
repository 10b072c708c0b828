package data

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Record is one ECG recording, lead-major: Signal[lead][t].
type Record struct {
	ID     string
	Signal [][]float64
}

func (r *Record) NLeads() int { return len(r.Signal) }

func (r *Record) NSamples() int {
	if len(r.Signal) == 0 {
		return 0
	}
	return len(r.Signal[0])
}

var (
	ErrBadRecord    = errors.New("data: bad record")
	recordMagic     = [4]byte{69, 67, 1, 0}
	maxRecordLeads  = uint32(64)
	maxRecordLength = uint32(1 << 24)
)

// Binary specification for the .ecg record file:
// - All the data is stored in little-endian layout
// - The magic number/version consists of 4 bytes:
//   - 69 (which is the ASCII code for E), uint8
//   - 67 (which is the ASCII code for C), uint8
//   - 1 The major part of the current version number, uint8
//   - 0 The minor part of the current version number, uint8
//
// - 4 bytes (uint32) number of leads
// - 4 bytes (uint32) number of samples per lead
// - All samples of lead 0 as float32, followed by lead 1 and so on
func WriteRecord(w io.Writer, rec *Record) error {
	var bw = bufio.NewWriter(w)
	if _, err := bw.Write(recordMagic[:]); err != nil {
		return err
	}
	var buf = make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(rec.NLeads()))
	if _, err := bw.Write(buf); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf, uint32(rec.NSamples()))
	if _, err := bw.Write(buf); err != nil {
		return err
	}
	for _, lead := range rec.Signal {
		if len(lead) != rec.NSamples() {
			return fmt.Errorf("%w: %v leads of different length", ErrBadRecord, rec.ID)
		}
		for _, v := range lead {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func ReadRecord(r io.Reader, id string) (Record, error) {
	var br = bufio.NewReader(r)
	var buf = make([]byte, 4)
	if _, err := io.ReadFull(br, buf); err != nil {
		return Record{}, err
	}
	if buf[0] != recordMagic[0] || buf[1] != recordMagic[1] {
		return Record{}, fmt.Errorf("%w: %v magic word does not match", ErrBadRecord, id)
	}
	if buf[2] != recordMagic[2] {
		return Record{}, fmt.Errorf("%w: %v format version %v.%v is not supported", ErrBadRecord, id, buf[2], buf[3])
	}
	if _, err := io.ReadFull(br, buf); err != nil {
		return Record{}, err
	}
	var leads = binary.LittleEndian.Uint32(buf)
	if _, err := io.ReadFull(br, buf); err != nil {
		return Record{}, err
	}
	var samples = binary.LittleEndian.Uint32(buf)
	if leads == 0 || leads > maxRecordLeads || samples > maxRecordLength {
		return Record{}, fmt.Errorf("%w: %v has shape %vx%v", ErrBadRecord, id, leads, samples)
	}

	var rec = Record{ID: id, Signal: make([][]float64, leads)}
	for l := range rec.Signal {
		var lead = make([]float64, samples)
		for t := range lead {
			if _, err := io.ReadFull(br, buf); err != nil {
				return Record{}, fmt.Errorf("%w: %v truncated: %v", ErrBadRecord, id, err)
			}
			lead[t] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
		}
		rec.Signal[l] = lead
	}
	return rec, nil
}

func SaveRecord(path string, rec *Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = WriteRecord(f, rec)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

// LoadRecordFile reads an .ecg or .csv record; the record ID is the file
// name without extension.
func LoadRecordFile(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()
	var id = RecordID(path)
	switch filepath.Ext(path) {
	case ".ecg":
		return ReadRecord(f, id)
	case ".csv":
		return ReadCSVRecord(f, id)
	}
	return Record{}, fmt.Errorf("%w: unsupported record file %v", ErrBadRecord, path)
}

func RecordID(path string) string {
	var name = filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func isRecordFile(name string) bool {
	var ext = filepath.Ext(name)
	return ext == ".ecg" || ext == ".csv"
}
