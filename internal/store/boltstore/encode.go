package boltstore

import (
	"time"

	cache "github.com/hanpama/normcache/internal/cache"
)

// wireRow is the msgpack-serialized shape of one cache.RecordRow. Reference
// and []Reference values are tagged explicitly since msgpack's generic `any`
// decoding has no way to recover a custom struct type on its own.
type wireRow struct {
	Fields              map[string]wireValue `msgpack:"fields"`
	ReceivedAtUnixNano int64                 `msgpack:"receivedAt"`
}

type wireValue struct {
	Kind   uint8    `msgpack:"kind"`
	Scalar any      `msgpack:"scalar,omitempty"`
	Ref    string   `msgpack:"ref,omitempty"`
	Refs   []string `msgpack:"refs,omitempty"`
}

const (
	kindScalar uint8 = iota
	kindReference
	kindReferenceList
)

func encodeValue(v any) wireValue {
	switch tv := v.(type) {
	case cache.Reference:
		return wireValue{Kind: kindReference, Ref: string(tv.Key)}
	case []cache.Reference:
		refs := make([]string, len(tv))
		for i, r := range tv {
			refs[i] = string(r.Key)
		}
		return wireValue{Kind: kindReferenceList, Refs: refs}
	default:
		return wireValue{Kind: kindScalar, Scalar: v}
	}
}

func decodeValue(wv wireValue) any {
	switch wv.Kind {
	case kindReference:
		return cache.Reference{Key: cache.CacheKey(wv.Ref)}
	case kindReferenceList:
		refs := make([]cache.Reference, len(wv.Refs))
		for i, r := range wv.Refs {
			refs[i] = cache.Reference{Key: cache.CacheKey(r)}
		}
		return refs
	default:
		return wv.Scalar
	}
}

func fromRecord(rec cache.Record, receivedAt time.Time) wireRow {
	fields := make(map[string]wireValue, len(rec))
	for k, v := range rec {
		fields[string(k)] = encodeValue(v)
	}
	return wireRow{Fields: fields, ReceivedAtUnixNano: receivedAt.UnixNano()}
}

func (row wireRow) toRecord() cache.Record {
	rec := make(cache.Record, len(row.Fields))
	for k, wv := range row.Fields {
		rec[cache.FieldKey(k)] = decodeValue(wv)
	}
	return rec
}
