package store

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/LeventeLantos/message-dispatch/internal/record"
)

// Update describes a change applied to one document: either field
// assignments with optional increments, or an aggregation pipeline.
type Update struct {
	set      record.Values
	inc      map[string]int64
	pipeline []bson.M
}

// Set assigns the given fields. A nil value removes an optional field.
func Set(v record.Values) Update {
	return Update{set: v}
}

func (u Update) Inc(field string, n int64) Update {
	inc := make(map[string]int64, len(u.inc)+1)
	for k, v := range u.inc {
		inc[k] = v
	}
	inc[field] = n
	u.inc = inc
	return u
}

// Pipeline runs the stages as an update pipeline. Stages are passed to the
// database as given.
func Pipeline(stages ...bson.M) Update {
	return Update{pipeline: stages}
}

func (u Update) document(d record.Descriptor) (any, error) {
	if u.pipeline != nil {
		return u.pipeline, nil
	}

	doc := bson.M{}
	if len(u.set) > 0 {
		set, err := record.EncodeFields(d, u.set)
		if err != nil {
			return nil, err
		}
		unset := bson.M{}
		for k, v := range set {
			if v == nil {
				unset[k] = ""
				delete(set, k)
			}
		}
		if len(set) > 0 {
			doc["$set"] = set
		}
		if len(unset) > 0 {
			doc["$unset"] = unset
		}
	}

	if len(u.inc) > 0 {
		inc := bson.M{}
		for field, n := range u.inc {
			f, ok := d.Field(field)
			if !ok || (f.Kind != record.Integer && f.Kind != record.Number) {
				return nil, &record.SchemaMismatchError{Type: d.Type, Field: field, Reason: "increment needs a declared numeric field"}
			}
			inc[field] = n
		}
		doc["$inc"] = inc
	}
	return doc, nil
}
