package store

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/LeventeLantos/message-dispatch/internal/record"
)

type condition struct {
	field string
	op    string
	value any
}

// Query is a conjunction of field conditions. Values are given in their
// record form and encoded with the collection's descriptor.
type Query struct {
	conds []condition
}

func All() Query {
	return Query{}
}

func Where(field string, v any) Query {
	return Query{}.And(field, v)
}

func ByID(id string) Query {
	return Where(record.IDField, id)
}

func (q Query) And(field string, v any) Query {
	return q.with(condition{field: field, value: v})
}

// In matches documents whose field equals any of vs.
func (q Query) In(field string, vs ...any) Query {
	return q.with(condition{field: field, op: "$in", value: vs})
}

func (q Query) Less(field string, v any) Query {
	return q.with(condition{field: field, op: "$lt", value: v})
}

func (q Query) with(c condition) Query {
	conds := make([]condition, len(q.conds), len(q.conds)+1)
	copy(conds, q.conds)
	return Query{conds: append(conds, c)}
}

func (q Query) filter(d record.Descriptor) (bson.M, error) {
	f := make(bson.M, len(q.conds))
	ops := make(map[string]bson.M)

	for _, c := range q.conds {
		var (
			enc any
			err error
		)
		if c.op == "$in" {
			vs := c.value.([]any)
			list := make(bson.A, 0, len(vs))
			for _, v := range vs {
				e, err := record.EncodeValue(d, c.field, v)
				if err != nil {
					return nil, err
				}
				list = append(list, e)
			}
			enc = list
		} else {
			enc, err = record.EncodeValue(d, c.field, c.value)
			if err != nil {
				return nil, err
			}
		}

		if c.op == "" {
			if m, ok := ops[c.field]; ok {
				m["$eq"] = enc
			} else {
				f[c.field] = enc
			}
			continue
		}

		m, ok := ops[c.field]
		if !ok {
			m = bson.M{}
			if prev, has := f[c.field]; has {
				m["$eq"] = prev
			}
			ops[c.field] = m
			f[c.field] = m
		}
		m[c.op] = enc
	}
	return f, nil
}
