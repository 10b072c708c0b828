package data

import (
	"encoding/binary"
	"math"

	"github.com/VictoriaMetrics/fastcache"
)

const minStoreBytes = 32 << 20

// RecordStore keeps normalized signals as packed float32 outside the Go
// heap. It is a cache: an entry may be evicted and Get then reports a miss.
// Entries are keyed by record file path, since the same record ID may
// appear in several splits.
type RecordStore struct {
	cache *fastcache.Cache
}

func NewRecordStore(maxBytes int) *RecordStore {
	if maxBytes < minStoreBytes {
		maxBytes = minStoreBytes
	}
	return &RecordStore{cache: fastcache.New(maxBytes)}
}

// RecordBytes is the space a record takes in the store.
func RecordBytes(nleads, nsamples int) int {
	return 8 + 4*nleads*nsamples
}

func (s *RecordStore) Put(path string, rec *Record) {
	var buf = make([]byte, RecordBytes(rec.NLeads(), rec.NSamples()))
	binary.LittleEndian.PutUint32(buf[0:], uint32(rec.NLeads()))
	binary.LittleEndian.PutUint32(buf[4:], uint32(rec.NSamples()))
	var offset = 8
	for _, lead := range rec.Signal {
		for _, v := range lead {
			binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(float32(v)))
			offset += 4
		}
	}
	s.cache.SetBig([]byte(path), buf)
}

func (s *RecordStore) Get(path string) (Record, bool) {
	var buf = s.cache.GetBig(nil, []byte(path))
	if len(buf) < 8 {
		return Record{}, false
	}
	var leads = int(binary.LittleEndian.Uint32(buf[0:]))
	var samples = int(binary.LittleEndian.Uint32(buf[4:]))
	if len(buf) != RecordBytes(leads, samples) {
		return Record{}, false
	}
	var rec = Record{ID: RecordID(path), Signal: make([][]float64, leads)}
	var offset = 8
	for l := range rec.Signal {
		var lead = make([]float64, samples)
		for t := range lead {
			lead[t] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[offset:])))
			offset += 4
		}
		rec.Signal[l] = lead
	}
	return rec, true
}

func (s *RecordStore) Stats() fastcache.Stats {
	var stats fastcache.Stats
	s.cache.UpdateStats(&stats)
	return stats
}

func (s *RecordStore) Reset() {
	s.cache.Reset()
}
