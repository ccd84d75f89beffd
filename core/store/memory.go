package store

import (
	"context"
	"sort"
	"sync"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/model"
)

// MemoryStore is an in-memory Store used in tests and single-run tooling.
type MemoryStore struct {
	mu         sync.RWMutex
	nextID     int64
	deliveries map[int64]model.Delivery
	units      map[string]model.Unit
	acks       map[string]model.PendingAck
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:     1,
		deliveries: map[int64]model.Delivery{},
		units:      map[string]model.Unit{},
		acks:       map[string]model.PendingAck{},
	}
}

func (s *MemoryStore) CreateDelivery(_ context.Context, d *model.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.nextID
	s.nextID++
	s.deliveries[d.ID] = *d
	return nil
}

func (s *MemoryStore) Delivery(_ context.Context, id int64) (model.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return model.Delivery{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) Deliveries(_ context.Context) ([]model.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) UpdateDelivery(_ context.Context, d model.Delivery, expect model.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.deliveries[d.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expect {
		return ErrConflict
	}
	s.deliveries[d.ID] = d
	return nil
}

func (s *MemoryStore) PutUnit(_ context.Context, u model.Unit) error {
	s.mu.Lock()
	s.units[u.ID] = u
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Unit(_ context.Context, id string) (model.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return model.Unit{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) Units(_ context.Context) ([]model.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Unit, 0, len(s.units))
	for _, u := range s.units {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) UpdateUnit(_ context.Context, u model.Unit, expect model.UnitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.units[u.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expect {
		return ErrConflict
	}
	s.units[u.ID] = u
	return nil
}

func (s *MemoryStore) PutPendingAck(_ context.Context, a model.PendingAck) error {
	s.mu.Lock()
	s.acks[a.MsgID] = a
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PendingAck(_ context.Context, msgID string) (model.PendingAck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.acks[msgID]
	if !ok {
		return model.PendingAck{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) PendingAcks(_ context.Context) ([]model.PendingAck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.PendingAck, 0, len(s.acks))
	for _, a := range s.acks {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].MsgID < res[j].MsgID })
	return res, nil
}

func (s *MemoryStore) DeletePendingAck(_ context.Context, msgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.acks[msgID]; !ok {
		return ErrNotFound
	}
	delete(s.acks, msgID)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
