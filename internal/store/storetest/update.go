package storetest

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// applyUpdate supports operator documents ($set, $unset, $inc) and update
// pipelines of $set and $unset stages whose values may use $add.
func applyUpdate(doc bson.M, update any) (bson.M, error) {
	switch u := update.(type) {
	case []bson.M:
		for _, stage := range u {
			if err := applyStage(doc, normalize(stage).(bson.M)); err != nil {
				return nil, err
			}
		}
		return doc, nil
	case bson.A:
		for _, raw := range u {
			stage, ok := normalize(raw).(bson.M)
			if !ok {
				return nil, fmt.Errorf("storetest: pipeline stage %T", raw)
			}
			if err := applyStage(doc, stage); err != nil {
				return nil, err
			}
		}
		return doc, nil
	}

	ops, err := toDoc(update)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("storetest: update document must not be empty")
	}
	for op, arg := range ops {
		fields, ok := arg.(bson.M)
		if !ok {
			return nil, fmt.Errorf("storetest: %s wants a document", op)
		}
		switch op {
		case "$set":
			for k, v := range fields {
				doc[k] = v
			}
		case "$unset":
			for k := range fields {
				delete(doc, k)
			}
		case "$inc":
			for k, v := range fields {
				sum, err := add(doc[k], v)
				if err != nil {
					return nil, fmt.Errorf("storetest: $inc %s: %w", k, err)
				}
				doc[k] = sum
			}
		default:
			return nil, fmt.Errorf("storetest: unsupported update operator %s", op)
		}
	}
	return doc, nil
}

func applyStage(doc, stage bson.M) error {
	for op, arg := range stage {
		switch op {
		case "$set", "$addFields":
			fields, ok := arg.(bson.M)
			if !ok {
				return fmt.Errorf("storetest: %s stage wants a document", op)
			}
			// Expressions see the document as it was before the stage.
			before := clone(doc)
			for k, expr := range fields {
				v, err := eval(before, expr)
				if err != nil {
					return fmt.Errorf("storetest: %s %s: %w", op, k, err)
				}
				doc[k] = v
			}
		case "$unset":
			switch names := arg.(type) {
			case string:
				delete(doc, names)
			case bson.A:
				for _, n := range names {
					if s, ok := n.(string); ok {
						delete(doc, s)
					}
				}
			default:
				return fmt.Errorf("storetest: $unset stage wants names, got %T", arg)
			}
		default:
			return fmt.Errorf("storetest: unsupported pipeline stage %s", op)
		}
	}
	return nil
}

func eval(doc bson.M, expr any) (any, error) {
	switch e := expr.(type) {
	case string:
		if strings.HasPrefix(e, "$") {
			return doc[strings.TrimPrefix(e, "$")], nil
		}
		return e, nil
	case bson.M:
		if args, ok := e["$add"]; ok && len(e) == 1 {
			list, ok := args.(bson.A)
			if !ok {
				return nil, fmt.Errorf("$add wants an array")
			}
			var sum any = int64(0)
			for _, a := range list {
				v, err := eval(doc, a)
				if err != nil {
					return nil, err
				}
				if sum, err = add(sum, v); err != nil {
					return nil, err
				}
			}
			return sum, nil
		}
		if lit, ok := e["$literal"]; ok && len(e) == 1 {
			return lit, nil
		}
		return e, nil
	}
	return expr, nil
}

func add(a, b any) (any, error) {
	if a == nil {
		a = int64(0)
	}
	if b == nil {
		b = int64(0)
	}
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		return ai + bi, nil
	}
	af, ok := number(a)
	if !ok {
		return nil, fmt.Errorf("non-numeric value %T", a)
	}
	bf, ok := number(b)
	if !ok {
		return nil, fmt.Errorf("non-numeric value %T", b)
	}
	return af + bf, nil
}
