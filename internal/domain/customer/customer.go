package customer

import "context"

// Customer is the buyer an order is placed for.
type Customer struct {
	ID    string
	Name  string
	Email string
}

// Repository resolves customers by identifier.
type Repository interface {
	// FindByID returns the customer with the given id. The boolean is false
	// when no such customer exists; the error is reserved for store failures.
	FindByID(ctx context.Context, id string) (Customer, bool, error)
}
