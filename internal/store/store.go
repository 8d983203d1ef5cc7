// Package store holds per-store settlement configuration: which gateway
// serves each payment type. The engine resolves gateways through a Resolver
// built from this configuration.
package store

import (
	"fmt"
	"sync"

	"github.com/yourorg/settlement-engine/internal/gateway"
	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// Store is one storefront's gateway configuration.
type Store struct {
	Code     string
	Gateways map[payment.PaymentType]gateway.PaymentGateway
}

// Repository looks stores up by code.
type Repository interface {
	FindByCode(code string) (*Store, error)
}

// InMemoryRepository is the map-backed Repository used by the daemon and by
// tests.
type InMemoryRepository struct {
	mu     sync.RWMutex
	stores map[string]*Store
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{stores: make(map[string]*Store)}
}

// Add registers or replaces a store.
func (r *InMemoryRepository) Add(s *Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[s.Code] = s
}

func (r *InMemoryRepository) FindByCode(code string) (*Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[code]
	if !ok {
		return nil, fmt.Errorf("unknown store code %q", code)
	}
	return s, nil
}

// Resolver maps an (order, payment type) pair to the gateway that must
// execute it. For return-and-exchange payments a store without its own
// exchange gateway falls back to any registered gateway of that type.
type Resolver struct {
	stores     Repository
	registered []gateway.PaymentGateway
}

// NewResolver builds a resolver over the store repository. The registered
// gateways form the fallback pool for exchange resolution.
func NewResolver(stores Repository, registered ...gateway.PaymentGateway) *Resolver {
	if stores == nil {
		panic("store repository cannot be nil")
	}
	return &Resolver{stores: stores, registered: registered}
}

// Resolve returns the gateway for the payment type in the order's store. A
// missing gateway is a configuration fault, not a retryable condition.
func (r *Resolver) Resolve(ord *order.Order, t payment.PaymentType) (gateway.PaymentGateway, error) {
	st, err := r.stores.FindByCode(ord.StoreCode)
	if err != nil {
		return nil, &payment.ServiceError{Msg: "cannot resolve store for order " + ord.OrderNumber, Err: err}
	}

	gw := st.Gateways[t]
	if gw == nil && t == payment.TypeReturnAndExchange {
		for _, g := range r.registered {
			if g.PaymentType() == t {
				gw = g
				break
			}
		}
	}
	if gw == nil {
		return nil, &payment.ServiceError{
			Msg: fmt.Sprintf("no payment gateway is defined for payment type %s in store %s", t, st.Code),
		}
	}
	return gw, nil
}
