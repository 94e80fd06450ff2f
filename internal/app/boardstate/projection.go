package boardstate

import (
	"sort"
	"sync"

	"github.com/todo-1m/board/internal/contracts"
)

type Column struct {
	Status contracts.Status
	Tasks  []contracts.Task
}

type Board struct {
	Columns []Column
}

// Column returns the column for status, or an empty one.
func (b Board) Column(status contracts.Status) Column {
	for _, c := range b.Columns {
		if c.Status == status {
			return c
		}
	}
	return Column{Status: status}
}

// Project distributes tasks into the fixed status columns, newest first.
// Tasks with an unknown status are left out.
func Project(tasks []contracts.Task) Board {
	byStatus := make(map[contracts.Status][]contracts.Task, len(contracts.Statuses))
	for _, t := range tasks {
		if !t.Status.Valid() {
			continue
		}
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}

	board := Board{Columns: make([]Column, 0, len(contracts.Statuses))}
	for _, status := range contracts.Statuses {
		column := byStatus[status]
		sort.SliceStable(column, func(i, j int) bool {
			if column[i].CreatedAt.Equal(column[j].CreatedAt) {
				return column[i].ID < column[j].ID
			}
			return column[i].CreatedAt.After(column[j].CreatedAt)
		})
		board.Columns = append(board.Columns, Column{Status: status, Tasks: column})
	}
	return board
}

// Projection keeps a Board in step with a Store.
type Projection struct {
	store *Store

	mu      sync.RWMutex
	current Board
	version uint64

	stop func()
}

func NewProjection(store *Store) *Projection {
	p := &Projection{store: store}
	p.refresh()
	p.stop = store.OnChange(p.refresh)
	return p
}

func (p *Projection) refresh() {
	board := Project(p.store.List())
	p.mu.Lock()
	p.current = board
	p.version++
	p.mu.Unlock()
}

func (p *Projection) Current() Board {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Version counts recomputations; it changes whenever the store changes.
func (p *Projection) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

func (p *Projection) Close() {
	if p.stop != nil {
		p.stop()
	}
}
