// Package storetest provides an in-memory store.Driver for tests. It
// understands the filters and updates the store package issues.
package storetest

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection keeps documents in insertion order. Documents are copied
// through BSON on the way in and out, so callers never share maps with it.
type Collection struct {
	mu       sync.Mutex
	docs     []bson.M
	failNext error
	failOn   map[string]error
	calls    map[string]int
}

func New() *Collection {
	return &Collection{calls: make(map[string]int), failOn: make(map[string]error)}
}

// FailNext makes the next driver call return err.
func (c *Collection) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

// FailNextOn makes the next call of the named driver method return err.
func (c *Collection) FailNextOn(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOn[method] = err
}

// DuplicateKeyError is the error a unique index violation produces.
func DuplicateKeyError() error {
	return mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error"}}}
}

// Seed inserts raw documents, bypassing any encoding.
func (c *Collection) Seed(docs ...bson.M) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range docs {
		d = clone(d)
		if _, ok := d["_id"]; !ok {
			d["_id"] = bson.NewObjectID()
		}
		c.docs = append(c.docs, d)
	}
}

// Docs returns a copy of every stored document.
func (c *Collection) Docs() []bson.M {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bson.M, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, clone(d))
	}
	return out
}

// Calls reports how many times the named driver method ran.
func (c *Collection) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Collection) begin(method string) error {
	c.calls[method]++
	if err, ok := c.failOn[method]; ok {
		delete(c.failOn, method)
		return err
	}
	err := c.failNext
	c.failNext = nil
	return err
}

func (c *Collection) InsertOne(_ context.Context, document any, _ ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("InsertOne"); err != nil {
		return nil, err
	}

	doc, err := toDoc(document)
	if err != nil {
		return nil, err
	}
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = bson.NewObjectID()
	}
	for _, d := range c.docs {
		if equal(d["_id"], doc["_id"]) {
			return nil, fmt.Errorf("E11000 duplicate key error: _id %v", doc["_id"])
		}
	}
	c.docs = append(c.docs, doc)
	return &mongo.InsertOneResult{InsertedID: doc["_id"], Acknowledged: true}, nil
}

func (c *Collection) FindOne(_ context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("FindOne"); err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}

	f, err := toDoc(filter)
	if err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}
	o := apply(opts)
	for _, d := range c.docs {
		if matches(d, f) {
			return mongo.NewSingleResultFromDocument(project(d, o.Projection), nil, nil)
		}
	}
	return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
}

func (c *Collection) Find(_ context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("Find"); err != nil {
		return nil, err
	}

	f, err := toDoc(filter)
	if err != nil {
		return nil, err
	}
	o := apply(opts)

	var hits []bson.M
	for _, d := range c.docs {
		if matches(d, f) {
			hits = append(hits, d)
		}
	}
	if o.Sort != nil {
		slices.SortStableFunc(hits, func(a, b bson.M) int {
			return compare(a["_id"], b["_id"])
		})
	}
	if o.Skip != nil {
		skip := min(int(*o.Skip), len(hits))
		hits = hits[skip:]
	}
	if o.Limit != nil && *o.Limit > 0 && int(*o.Limit) < len(hits) {
		hits = hits[:*o.Limit]
	}

	out := make([]any, 0, len(hits))
	for _, d := range hits {
		out = append(out, project(d, o.Projection))
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

func (c *Collection) FindOneAndUpdate(_ context.Context, filter any, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) *mongo.SingleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("FindOneAndUpdate"); err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}

	f, err := toDoc(filter)
	if err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}
	o := apply(opts)
	after := o.ReturnDocument != nil && *o.ReturnDocument == options.After

	for i, d := range c.docs {
		if !matches(d, f) {
			continue
		}
		updated, err := applyUpdate(clone(d), update)
		if err != nil {
			return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
		}
		c.docs[i] = updated
		if after {
			return mongo.NewSingleResultFromDocument(project(updated, o.Projection), nil, nil)
		}
		return mongo.NewSingleResultFromDocument(project(d, o.Projection), nil, nil)
	}

	if o.Upsert == nil || !*o.Upsert {
		return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
	}

	seed := bson.M{}
	for k, v := range f {
		if !isOperator(v) {
			seed[k] = v
		}
	}
	doc, err := applyUpdate(seed, update)
	if err != nil {
		return mongo.NewSingleResultFromDocument(bson.M{}, err, nil)
	}
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = bson.NewObjectID()
	}
	c.docs = append(c.docs, doc)
	if after {
		return mongo.NewSingleResultFromDocument(project(doc, o.Projection), nil, nil)
	}
	return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
}

func (c *Collection) DeleteOne(_ context.Context, filter any, _ ...options.Lister[options.DeleteOneOptions]) (*mongo.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("DeleteOne"); err != nil {
		return nil, err
	}

	f, err := toDoc(filter)
	if err != nil {
		return nil, err
	}
	for i, d := range c.docs {
		if matches(d, f) {
			c.docs = slices.Delete(c.docs, i, i+1)
			return &mongo.DeleteResult{DeletedCount: 1, Acknowledged: true}, nil
		}
	}
	return &mongo.DeleteResult{Acknowledged: true}, nil
}

func (c *Collection) CountDocuments(_ context.Context, filter any, opts ...options.Lister[options.CountOptions]) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin("CountDocuments"); err != nil {
		return 0, err
	}

	f, err := toDoc(filter)
	if err != nil {
		return 0, err
	}
	o := apply(opts)

	var n int64
	for _, d := range c.docs {
		if matches(d, f) {
			n++
			if o.Limit != nil && *o.Limit > 0 && n >= *o.Limit {
				break
			}
		}
	}
	return n, nil
}

func apply[T any](opts []options.Lister[T]) *T {
	o := new(T)
	for _, l := range opts {
		if l == nil {
			continue
		}
		for _, set := range l.List() {
			_ = set(o)
		}
	}
	return o
}

func project(d bson.M, projection any) bson.M {
	if projection == nil {
		return clone(d)
	}
	p, err := toDoc(projection)
	if err != nil || len(p) == 0 {
		return clone(d)
	}
	out := bson.M{"_id": d["_id"]}
	for k := range p {
		if v, ok := d[k]; ok {
			out[k] = v
		}
	}
	return clone(out)
}

// toDoc normalizes any document form into a bson.M whose nested documents
// are bson.M and arrays are bson.A.
func toDoc(v any) (bson.M, error) {
	if v == nil {
		return bson.M{}, nil
	}
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("storetest: marshal: %w", err)
	}
	var out bson.D
	if err := bson.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("storetest: unmarshal: %w", err)
	}
	return normalize(out).(bson.M), nil
}

func clone(d bson.M) bson.M {
	out, err := toDoc(d)
	if err != nil {
		panic(err)
	}
	return out
}

func normalize(v any) any {
	switch x := v.(type) {
	case bson.D:
		m := make(bson.M, len(x))
		for _, e := range x {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case bson.M:
		m := make(bson.M, len(x))
		for k, e := range x {
			m[k] = normalize(e)
		}
		return m
	case map[string]any:
		return normalize(bson.M(x))
	case bson.A:
		a := make(bson.A, len(x))
		for i, e := range x {
			a[i] = normalize(e)
		}
		return a
	case []any:
		return normalize(bson.A(x))
	case int32:
		return int64(x)
	case int:
		return int64(x)
	default:
		return v
	}
}

func isOperator(v any) bool {
	m, ok := v.(bson.M)
	if !ok || len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func matches(d, filter bson.M) bool {
	for field, cond := range filter {
		val, present := d[field]
		if isOperator(cond) {
			for op, arg := range cond.(bson.M) {
				if !matchOp(op, val, present, arg) {
					return false
				}
			}
			continue
		}
		if !present || !matchValue(val, cond) {
			return false
		}
	}
	return true
}

func matchOp(op string, val any, present bool, arg any) bool {
	switch op {
	case "$eq":
		return present && matchValue(val, arg)
	case "$ne":
		return !present || !matchValue(val, arg)
	case "$in":
		list, _ := arg.(bson.A)
		for _, a := range list {
			if present && matchValue(val, a) {
				return true
			}
		}
		return false
	case "$lt":
		return present && orderable(val, arg) && compare(val, arg) < 0
	case "$lte":
		return present && orderable(val, arg) && compare(val, arg) <= 0
	case "$gt":
		return present && orderable(val, arg) && compare(val, arg) > 0
	case "$gte":
		return present && orderable(val, arg) && compare(val, arg) >= 0
	case "$exists":
		want, _ := arg.(bool)
		return present == want
	}
	panic("storetest: unsupported operator " + op)
}

// matchValue is equality, plus element containment when the stored value is
// an array and the wanted one is not.
func matchValue(val, want any) bool {
	if equal(val, want) {
		return true
	}
	if arr, ok := val.(bson.A); ok {
		if _, wantArr := want.(bson.A); !wantArr {
			for _, e := range arr {
				if equal(e, want) {
					return true
				}
			}
		}
	}
	return false
}

func equal(a, b any) bool {
	if na, ok := number(a); ok {
		nb, ok := number(b)
		return ok && na == nb
	}
	switch x := a.(type) {
	case bson.M:
		y, ok := b.(bson.M)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			if w, ok := y[k]; !ok || !equal(v, w) {
				return false
			}
		}
		return true
	case bson.A:
		y, ok := b.(bson.A)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func orderable(a, b any) bool {
	if _, ok := number(a); ok {
		_, ok = number(b)
		return ok
	}
	switch a.(type) {
	case string:
		_, ok := b.(string)
		return ok
	case bson.DateTime:
		_, ok := b.(bson.DateTime)
		return ok
	case bson.ObjectID:
		_, ok := b.(bson.ObjectID)
		return ok
	}
	return false
}

func compare(a, b any) int {
	if na, ok := number(a); ok {
		nb, _ := number(b)
		return cmp.Compare(na, nb)
	}
	switch x := a.(type) {
	case string:
		y, _ := b.(string)
		return cmp.Compare(x, y)
	case bson.DateTime:
		y, _ := b.(bson.DateTime)
		return cmp.Compare(x, y)
	case bson.ObjectID:
		y, _ := b.(bson.ObjectID)
		return cmp.Compare(x.Hex(), y.Hex())
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
