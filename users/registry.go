// Package users is the account registry. Profiles live in Postgres and are
// mirrored into the realtime store under users/{uid} so the coordination core
// reads them through the same adapter schema as everything else.
package users

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"trip-coordinator/models"
	"trip-coordinator/realtime"
)

// ErrExists reports a sign-up with a uid or email already registered.
var ErrExists = errors.New("users: already registered")

type Registry struct {
	db      *sql.DB
	adapter realtime.Adapter
	log     *logrus.Entry
}

func NewRegistry(db *sql.DB, adapter realtime.Adapter, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{db: db, adapter: adapter, log: log}
}

// Create registers a user and mirrors the profile into the realtime store.
func (r *Registry) Create(ctx context.Context, u models.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (uid, fullname, email, account_type) VALUES ($1, $2, $3, $4)`,
		u.UID, u.FullName, u.Email, int(u.AccountType),
	)
	if err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return ErrExists
		}
		return err
	}

	if err := r.adapter.Update(ctx, realtime.Join(realtime.PathUsers, u.UID), models.UserFields(u)); err != nil {
		// The row is authoritative; a failed mirror write only degrades
		// store-side lookups, so surface it without undoing the insert.
		r.log.WithField("uid", u.UID).WithError(err).Warn("profile mirror write failed")
		return err
	}
	return nil
}

// Get fetches a user by uid.
func (r *Registry) Get(ctx context.Context, uid string) (models.User, error) {
	var u models.User
	var accountType int
	err := r.db.QueryRowContext(ctx,
		`SELECT uid, fullname, email, account_type FROM users WHERE uid = $1`, uid,
	).Scan(&u.UID, &u.FullName, &u.Email, &accountType)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.User{}, realtime.ErrNotFound
		}
		return models.User{}, err
	}
	u.AccountType = models.AccountType(accountType)
	return u, nil
}
