package store

import (
	"context"
	"sync"
)

// Mutation is the pending outcome of a create, update or delete sent to the remote store.
// The optimistic change is already visible when the Mutation is returned.
type Mutation struct {
	op            string
	correlationID string
	recordID      string

	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newMutation(op, correlationID, recordID string) *Mutation {
	return &Mutation{
		op:            op,
		correlationID: correlationID,
		recordID:      recordID,
		done:          make(chan struct{}),
	}
}

// Op is one of "create", "update", "delete"
func (m *Mutation) Op() string { return m.op }

// CorrelationID identifies the optimistic entry of a create
func (m *Mutation) CorrelationID() string { return m.correlationID }

// RemoteID is the record id: the target of an update/delete, or the id assigned
// to a create once it succeeded.
func (m *Mutation) RemoteID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordID
}

// Done is closed when the remote call finished
func (m *Mutation) Done() <-chan struct{} { return m.done }

// Err returns the remote outcome. It is nil until Done is closed.
func (m *Mutation) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Wait blocks until the mutation finished or ctx is done
func (m *Mutation) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mutation) finish(recordID string, err error) {
	m.once.Do(func() {
		m.mu.Lock()
		if recordID != "" {
			m.recordID = recordID
		}
		m.err = err
		m.mu.Unlock()
		close(m.done)
	})
}
