package paymentsrepo

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps payments in process memory. It backs DB_DRIVER=memory and
// the engine tests. Every read and write copies the record.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]*Payment
	logs     []PaymentLog
	nextLog  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]*Payment),
	}
}

func (s *MemoryStore) Create(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.ID]; exists {
		return ErrConflict
	}
	p.UpdatedAt = p.CreatedAt
	s.payments[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (s *MemoryStore) CompareAndSetStatus(_ context.Context, id string, expected, next Status, fields TransitionFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok || p.Status != expected {
		return false, nil
	}
	p.Status = next
	if fields.ChargeRef != nil {
		p.ChargeRef = cloneString(fields.ChargeRef)
	}
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]*Payment, int, error) {
	limit, offset := normalizeLimit(f.Limit, f.Offset)

	s.mu.RLock()
	var matched []*Payment
	for _, p := range s.payments {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Since != nil && p.CreatedAt.Before(*f.Since) {
			continue
		}
		matched = append(matched, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (s *MemoryStore) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]*Payment, error) {
	limit, _ = normalizeLimit(limit, 0)

	s.mu.RLock()
	var out []*Payment
	for _, p := range s.payments {
		if p.Status == StatusPending && p.SessionRef != nil && p.CreatedAt.Before(olderThan) {
			out = append(out, p.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertPaymentLog(_ context.Context, paymentID string, logType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLog++
	s.logs = append(s.logs, PaymentLog{
		ID:        s.nextLog,
		PaymentID: paymentID,
		LogType:   logType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Logs returns the audit rows written for paymentID, oldest first.
func (s *MemoryStore) Logs(paymentID string) []PaymentLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PaymentLog
	for _, l := range s.logs {
		if l.PaymentID == paymentID {
			out = append(out, l)
		}
	}
	return out
}

// Len reports how many payments are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payments)
}
