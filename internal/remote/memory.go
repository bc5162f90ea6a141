package remote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FailureHook lets callers inject failures into Memory. Returning a non-nil
// error makes the operation fail with it.
type FailureHook func(op, table string, values Row) error

// Memory is an in-process Store. It backs the offline demo mode and tests.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]Row
	nextID int
	subs   map[int]*memorySub
	subSeq int
	hook   FailureHook
	down   bool
}

type memorySub struct {
	table  string
	filter Filter
	cb     func(Change)
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string][]Row),
		subs:   make(map[int]*memorySub),
	}
}

// SetFailureHook installs hook; nil removes it.
func (m *Memory) SetFailureHook(hook FailureHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// SetReachable toggles whether Health and every call succeed.
func (m *Memory) SetReachable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = !ok
}

// Rows returns a copy of every row in table.
func (m *Memory) Rows(table string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Row, 0, len(m.tables[table]))
	for _, r := range m.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

// Health implements HealthChecker.
func (m *Memory) Health(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return Transient(fmt.Errorf("memory store unreachable"))
	}
	return nil
}

func (m *Memory) check(op, table string, values Row) error {
	if m.down {
		return Transient(fmt.Errorf("memory store unreachable"))
	}
	if m.hook != nil {
		return m.hook(op, table, values)
	}
	return nil
}

// InsertRow implements Store.
func (m *Memory) InsertRow(ctx context.Context, table string, values Row) (Row, error) {
	m.mu.Lock()
	if err := m.check("insert", table, values); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	row := m.insertLocked(table, values)
	notify := m.matchingLocked(table, row)
	m.mu.Unlock()

	deliver(notify, Change{Type: ChangeInsert, Table: table, Record: copyRow(row)})
	return copyRow(row), nil
}

// UpdateRow implements Store.
func (m *Memory) UpdateRow(ctx context.Context, table string, key Filter, patch Row) (Row, error) {
	m.mu.Lock()
	if err := m.check("update", table, patch); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	var updated, old Row
	for _, r := range m.tables[table] {
		if matches(r, key) {
			old = copyRow(r)
			for k, v := range patch {
				r[k] = v
			}
			updated = r
			break
		}
	}
	if updated == nil {
		m.mu.Unlock()
		return nil, ErrNoRows
	}
	notify := m.matchingLocked(table, updated)
	m.mu.Unlock()

	deliver(notify, Change{Type: ChangeUpdate, Table: table, Record: copyRow(updated), Old: old})
	return copyRow(updated), nil
}

// SelectRows implements Store.
func (m *Memory) SelectRows(ctx context.Context, table string, filter Filter, order *Order, limit int) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("select", table, nil); err != nil {
		return nil, err
	}

	var out []Row
	for _, r := range m.tables[table] {
		if matches(r, filter) {
			out = append(out, copyRow(r))
		}
	}
	if order != nil {
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][order.Column], out[j][order.Column])
			if order.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpsertRow implements Store.
func (m *Memory) UpsertRow(ctx context.Context, table string, values Row, conflictKey string) (Row, error) {
	m.mu.Lock()
	if err := m.check("upsert", table, values); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	if conflictKey == "" {
		conflictKey = "id"
	}
	var row Row
	changeType := ChangeInsert
	if key, ok := conflictFilter(values, conflictKey); ok {
		for _, r := range m.tables[table] {
			if matches(r, key) {
				for k, v := range values {
					r[k] = v
				}
				row = r
				changeType = ChangeUpdate
				break
			}
		}
	}
	if row == nil {
		row = m.insertLocked(table, values)
	}
	notify := m.matchingLocked(table, row)
	m.mu.Unlock()

	deliver(notify, Change{Type: changeType, Table: table, Record: copyRow(row)})
	return copyRow(row), nil
}

// Subscribe implements Store. Callbacks run synchronously after the write
// that produced them, outside the store lock.
func (m *Memory) Subscribe(ctx context.Context, table string, filter Filter, cb func(Change)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subSeq++
	id := m.subSeq
	m.subs[id] = &memorySub{table: table, filter: filter, cb: cb}
	return memoryUnsub(func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}), nil
}

type memoryUnsub func()

func (u memoryUnsub) Unsubscribe() error {
	u()
	return nil
}

// conflictFilter turns a comma separated conflict key into an equality
// filter. It fails when values lacks any of the key columns.
func conflictFilter(values Row, conflictKey string) (Filter, bool) {
	var f Filter
	for _, col := range strings.Split(conflictKey, ",") {
		col = strings.TrimSpace(col)
		v, ok := values[col]
		if !ok {
			return nil, false
		}
		f = append(f, Eq(col, v))
	}
	return f, len(f) > 0
}

func (m *Memory) insertLocked(table string, values Row) Row {
	row := copyRow(values)
	if _, ok := row["id"]; !ok {
		m.nextID++
		row["id"] = strconv.Itoa(m.nextID)
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	m.tables[table] = append(m.tables[table], row)
	return row
}

func (m *Memory) matchingLocked(table string, row Row) []func(Change) {
	var cbs []func(Change)
	for _, s := range m.subs {
		if s.table == table && matches(row, s.filter) && s.cb != nil {
			cbs = append(cbs, s.cb)
		}
	}
	return cbs
}

func deliver(cbs []func(Change), c Change) {
	for _, cb := range cbs {
		cb(c)
	}
}

func matches(r Row, f Filter) bool {
	for _, c := range f {
		v, ok := r[c.Column]
		if !ok {
			return false
		}
		cmp := compare(v, c.Value)
		switch c.Op {
		case "eq":
			if cmp != 0 {
				return false
			}
		case "neq":
			if cmp == 0 {
				return false
			}
		case "gt":
			if cmp <= 0 {
				return false
			}
		case "gte":
			if cmp < 0 {
				return false
			}
		case "lt":
			if cmp >= 0 {
				return false
			}
		case "lte":
			if cmp > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compare orders numbers numerically and everything else by its string form.
func compare(a, b interface{}) int {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	sa, sb := formatValue(a), formatValue(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	default:
		return 0, false
	}
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
