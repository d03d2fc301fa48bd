// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/trip-budget/budget"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every workspace in maps. WithTx snapshots the whole state and
// restores it when fn fails; it does not isolate concurrent writers.
type Memory struct {
	mu    sync.RWMutex
	state memState
	seq   int64

	faults map[string]*fault
}

type memState struct {
	items   map[budget.Workspace]map[string]memItem
	days    map[budget.Workspace]map[string]budget.DistanceDay
	params  map[budget.Workspace]budget.Parameters
	changes []memChange
}

type memItem struct {
	item budget.LineItem
	seq  int64
}

type memChange struct {
	entry budget.ChangeLogEntry
	seq   int64
}

type fault struct {
	after int
	err   error
}

func NewMemory() *Memory {
	return &Memory{
		state: memState{
			items:  make(map[budget.Workspace]map[string]memItem),
			days:   make(map[budget.Workspace]map[string]budget.DistanceDay),
			params: make(map[budget.Workspace]budget.Parameters),
		},
		faults: make(map[string]*fault),
	}
}

// InjectFault makes the named operation (a method name such as
// "InsertLineItem") fail with err after it has succeeded `after` more times.
func (m *Memory) InjectFault(op string, after int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = &fault{after: after, err: err}
}

// ClearFaults removes every injected fault.
func (m *Memory) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = make(map[string]*fault)
}

func (m *Memory) checkFault(op string) error {
	f, ok := m.faults[op]
	if !ok {
		return nil
	}
	if f.after > 0 {
		f.after--
		return nil
	}
	return f.err
}

func (m *Memory) nextSeq() int64 {
	m.seq++
	return m.seq
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func (m *Memory) LineItems(_ context.Context, ws budget.Workspace) ([]budget.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("LineItems"); err != nil {
		return nil, err
	}

	rows := make([]memItem, 0, len(m.state.items[ws]))
	for _, it := range m.state.items[ws] {
		rows = append(rows, it)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].item.Category != rows[j].item.Category {
			return rows[i].item.Category < rows[j].item.Category
		}
		return rows[i].seq < rows[j].seq
	})

	items := make([]budget.LineItem, len(rows))
	for i, r := range rows {
		items[i] = r.item
	}
	return items, nil
}

func (m *Memory) InsertLineItem(_ context.Context, item budget.LineItem) (budget.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("InsertLineItem"); err != nil {
		return budget.LineItem{}, err
	}

	now := time.Now().UTC()
	item.ID = uuid.NewString()
	item.CreatedAt = now
	item.UpdatedAt = now

	if m.state.items[item.Workspace] == nil {
		m.state.items[item.Workspace] = make(map[string]memItem)
	}
	m.state.items[item.Workspace][item.ID] = memItem{item: item, seq: m.nextSeq()}
	return item, nil
}

func (m *Memory) UpdateLineItem(_ context.Context, item budget.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("UpdateLineItem"); err != nil {
		return err
	}

	row, ok := m.state.items[item.Workspace][item.ID]
	if !ok {
		return &budget.NotFoundError{Workspace: item.Workspace, Table: budget.TableLineItems, RecordID: item.ID}
	}
	item.CreatedAt = row.item.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	row.item = item
	m.state.items[item.Workspace][item.ID] = row
	return nil
}

func (m *Memory) DeleteLineItem(_ context.Context, ws budget.Workspace, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("DeleteLineItem"); err != nil {
		return err
	}
	if _, ok := m.state.items[ws][id]; !ok {
		return &budget.NotFoundError{Workspace: ws, Table: budget.TableLineItems, RecordID: id}
	}
	delete(m.state.items[ws], id)
	return nil
}

func (m *Memory) DeleteLineItems(_ context.Context, ws budget.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("DeleteLineItems"); err != nil {
		return err
	}
	delete(m.state.items, ws)
	return nil
}

// =============================================================================
// DISTANCE DAYS
// =============================================================================

func (m *Memory) DistanceDays(_ context.Context, ws budget.Workspace) ([]budget.DistanceDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("DistanceDays"); err != nil {
		return nil, err
	}

	days := make([]budget.DistanceDay, 0, len(m.state.days[ws]))
	for _, d := range m.state.days[ws] {
		days = append(days, d)
	}
	return budget.SortDays(days), nil
}

func (m *Memory) InsertDistanceDay(_ context.Context, day budget.DistanceDay) (budget.DistanceDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("InsertDistanceDay"); err != nil {
		return budget.DistanceDay{}, err
	}

	for _, d := range m.state.days[day.Workspace] {
		if d.Day == day.Day {
			return budget.DistanceDay{}, fmt.Errorf("distance day %d already exists in %s", day.Day, day.Workspace)
		}
	}

	day.ID = uuid.NewString()
	if m.state.days[day.Workspace] == nil {
		m.state.days[day.Workspace] = make(map[string]budget.DistanceDay)
	}
	m.state.days[day.Workspace][day.ID] = day
	return day, nil
}

func (m *Memory) UpdateDistanceDay(_ context.Context, day budget.DistanceDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("UpdateDistanceDay"); err != nil {
		return err
	}
	if _, ok := m.state.days[day.Workspace][day.ID]; !ok {
		return &budget.NotFoundError{Workspace: day.Workspace, Table: budget.TableDistanceDays, RecordID: day.ID}
	}
	m.state.days[day.Workspace][day.ID] = day
	return nil
}

func (m *Memory) DeleteDistanceDay(_ context.Context, ws budget.Workspace, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("DeleteDistanceDay"); err != nil {
		return err
	}
	if _, ok := m.state.days[ws][id]; !ok {
		return &budget.NotFoundError{Workspace: ws, Table: budget.TableDistanceDays, RecordID: id}
	}
	delete(m.state.days[ws], id)
	return nil
}

func (m *Memory) DeleteDistanceDays(_ context.Context, ws budget.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("DeleteDistanceDays"); err != nil {
		return err
	}
	delete(m.state.days, ws)
	return nil
}

// =============================================================================
// PARAMETERS
// =============================================================================

func (m *Memory) Parameters(_ context.Context, ws budget.Workspace) (budget.Parameters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("Parameters"); err != nil {
		return budget.Parameters{}, err
	}
	p, ok := m.state.params[ws]
	if !ok {
		return budget.Parameters{}, &budget.NotFoundError{Workspace: ws, Table: budget.TableParameters}
	}
	return p, nil
}

func (m *Memory) UpsertParameters(_ context.Context, p budget.Parameters) (budget.Parameters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("UpsertParameters"); err != nil {
		return budget.Parameters{}, err
	}
	if current, ok := m.state.params[p.Workspace]; ok {
		p.ID = current.ID
	} else {
		p.ID = uuid.NewString()
	}
	p.UpdatedAt = time.Now().UTC()
	m.state.params[p.Workspace] = p
	return p, nil
}

// =============================================================================
// CHANGE LOG
// =============================================================================

func (m *Memory) AppendChange(_ context.Context, entry budget.ChangeLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("AppendChange"); err != nil {
		return err
	}
	m.state.changes = append(m.state.changes, memChange{entry: entry, seq: m.nextSeq()})
	return nil
}

func (m *Memory) Changes(_ context.Context, f budget.ChangeFilter) ([]budget.ChangeLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkFault("Changes"); err != nil {
		return nil, err
	}

	var rows []memChange
	for _, c := range m.state.changes {
		if matches(c.entry, f) {
			rows = append(rows, c)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].entry.At.Equal(rows[j].entry.At) {
			return rows[i].entry.At.After(rows[j].entry.At)
		}
		return rows[i].seq > rows[j].seq
	})
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}

	entries := make([]budget.ChangeLogEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.entry
	}
	return entries, nil
}

func matches(e budget.ChangeLogEntry, f budget.ChangeFilter) bool {
	switch {
	case f.Workspace != "" && e.Workspace != f.Workspace:
		return false
	case f.Table != "" && e.Table != f.Table:
		return false
	case f.RecordID != "" && e.RecordID != f.RecordID:
		return false
	case f.Field != "" && e.Field != f.Field:
		return false
	case f.Actor != "" && e.Actor != f.Actor:
		return false
	case f.From != nil && e.At.Before(*f.From):
		return false
	case f.To != nil && e.At.After(*f.To):
		return false
	}
	return true
}

// Reset drops every record and the change log.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = memState{
		items:  make(map[budget.Workspace]map[string]memItem),
		days:   make(map[budget.Workspace]map[string]budget.DistanceDay),
		params: make(map[budget.Workspace]budget.Parameters),
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against the store and restores the previous state if fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(budget.Store) error) error {
	m.mu.Lock()
	saved := m.state.clone()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.state = saved
		m.mu.Unlock()
		return err
	}
	return nil
}

func (s memState) clone() memState {
	c := memState{
		items:   make(map[budget.Workspace]map[string]memItem, len(s.items)),
		days:    make(map[budget.Workspace]map[string]budget.DistanceDay, len(s.days)),
		params:  make(map[budget.Workspace]budget.Parameters, len(s.params)),
		changes: append([]memChange(nil), s.changes...),
	}
	for ws, items := range s.items {
		c.items[ws] = make(map[string]memItem, len(items))
		for id, it := range items {
			c.items[ws][id] = it
		}
	}
	for ws, days := range s.days {
		c.days[ws] = make(map[string]budget.DistanceDay, len(days))
		for id, d := range days {
			c.days[ws][id] = d
		}
	}
	for ws, p := range s.params {
		c.params[ws] = p
	}
	return c
}

var _ budget.TxStore = (*Memory)(nil)
