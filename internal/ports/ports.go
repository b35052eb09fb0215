// Package ports declares the outbound interfaces the services depend on.
package ports

import (
	"context"

	"cointraq/internal/core"
)

type (
	// TransactionReader lists a user's transactions. List returns them in
	// store order, newest first, restricted to the range filter.
	TransactionReader interface {
		List(ctx context.Context, p core.Principal, f core.RangeFilter) ([]core.Transaction, error)
		Get(ctx context.Context, p core.Principal, id string) (core.Transaction, error)
	}

	TransactionWriter interface {
		Create(ctx context.Context, p core.Principal, in core.TransactionInput) (core.Transaction, error)
		Update(ctx context.Context, p core.Principal, id string, in core.TransactionInput) (core.Transaction, error)
		Delete(ctx context.Context, p core.Principal, id string) error
	}

	// TransactionStore is the full backend the web server talks to.
	TransactionStore interface {
		TransactionReader
		TransactionWriter
	}

	// Authenticator owns user accounts and upstream sessions.
	Authenticator interface {
		Register(ctx context.Context, name, email, password string) (core.Principal, error)
		Login(ctx context.Context, email, password string) (core.Principal, error)
		// Status resolves the account behind a principal, or ErrUnauthorized.
		Status(ctx context.Context, p core.Principal) (core.User, error)
		Logout(ctx context.Context, p core.Principal) error
	}

	// Exporter mirrors transactions into an external spreadsheet.
	Exporter interface {
		Export(ctx context.Context, userID string, tx core.Transaction) (rowRef string, err error)
		Remove(ctx context.Context, id string) error
	}
)
