// Package query answers read-only lookups over the metadata store.
package query

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/JakeFAU/xkcd-mirror/internal/comic"
)

// Direction selects the navigation order.
type Direction string

// Navigation directions. Any value other than Next navigates backwards.
const (
	Next     Direction = "next"
	Previous Direction = "previous"
)

// Service serves queries from a comic.Store.
type Service struct {
	store comic.Store
	intn  func(n int) int
}

// New builds a Service over store.
func New(store comic.Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Service{store: store, intn: rand.IntN}, nil
}

// All returns every record in store order.
func (s *Service) All(ctx context.Context) []comic.Record {
	return s.store.All(ctx)
}

// ByNumber returns the record with the given number.
func (s *Service) ByNumber(ctx context.Context, number int) (comic.Record, error) {
	rec, err := s.store.Find(ctx, number)
	if err != nil {
		return comic.Record{}, fmt.Errorf("lookup comic %d: %w", number, err)
	}
	return rec, nil
}

// Random returns a uniformly chosen record.
func (s *Service) Random(ctx context.Context) (comic.Record, error) {
	records := s.store.All(ctx)
	if len(records) == 0 {
		return comic.Record{}, fmt.Errorf("no comics available: %w", comic.ErrNotFound)
	}
	return records[s.intn(len(records))], nil
}

// Next returns the first record in store order whose number exceeds current.
func (s *Service) Next(ctx context.Context, current int) (comic.Record, error) {
	for _, rec := range s.store.All(ctx) {
		if rec.Number > current {
			return rec, nil
		}
	}
	return comic.Record{}, fmt.Errorf("no comic after %d: %w", current, comic.ErrNotFound)
}

// Previous scans store order backwards and returns the first record whose
// number is below current.
func (s *Service) Previous(ctx context.Context, current int) (comic.Record, error) {
	records := s.store.All(ctx)
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Number < current {
			return records[i], nil
		}
	}
	return comic.Record{}, fmt.Errorf("no comic before %d: %w", current, comic.ErrNotFound)
}

// Navigate dispatches to Next or Previous.
func (s *Service) Navigate(ctx context.Context, current int, direction Direction) (comic.Record, error) {
	if direction == Next {
		return s.Next(ctx, current)
	}
	return s.Previous(ctx, current)
}
