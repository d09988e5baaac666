package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
)

var (
	boltBucket     = []byte("otpwallet")
	boltSessionKey = []byte("session")
	boltPendingKey = []byte("pending")
)

type sessionRecord struct {
	Email       string    `json:"email"`
	Address     string    `json:"address"`
	PrivateKey  string    `json:"private_key"`
	IssuedToken string    `json:"issued_token"`
	IssuedAt    time.Time `json:"issued_at"`
}

type pendingRecord struct {
	Email          string    `json:"email"`
	VerificationID string    `json:"verification_id"`
	RequestedAt    time.Time `json:"requested_at"`
}

// BoltStore is a SessionStore backed by a local BBolt database.
// The session is a single record, so a write is all-or-nothing.
type BoltStore struct {
	db  *bbolt.DB
	hub *presenceHub
	mu  sync.Mutex // orders writes with presence notifications
}

var _ ports.SessionStore = (*BoltStore)(nil)

// NewBoltStore returns a store using the given database
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &BoltStore{db: db, hub: newPresenceHub()}, nil
}

// NewBoltStoreFromFile opens a BBolt database at path
func NewBoltStoreFromFile(path string, options *bbolt.Options) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewBoltStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Read(ctx context.Context) (core.Session, error) {
	rec, err := s.readSession()
	if err != nil {
		return core.Session{}, err
	}
	if rec == nil {
		return core.Session{}, core.ErrSessionNotFound
	}
	session := core.Session{
		Email:       rec.Email,
		Address:     rec.Address,
		PrivateKey:  rec.PrivateKey,
		IssuedToken: rec.IssuedToken,
		IssuedAt:    rec.IssuedAt,
	}
	if !session.Valid() {
		return core.Session{}, core.ErrSessionNotFound
	}
	return session, nil
}

func (s *BoltStore) Write(ctx context.Context, session core.Session) error {
	data, err := json.Marshal(sessionRecord{
		Email:       session.Email,
		Address:     session.Address,
		PrivateKey:  session.PrivateKey,
		IssuedToken: session.IssuedToken,
		IssuedAt:    session.IssuedAt,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put(boltSessionKey, data)
	})
	if err != nil {
		return fmt.Errorf("writing session: %w: %v", core.ErrStoreOperationFailed, err)
	}
	s.hub.publish(session.Valid())
	return nil
}

func (s *BoltStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if err := b.Delete(boltSessionKey); err != nil {
			return err
		}
		return b.Delete(boltPendingKey)
	})
	if err != nil {
		return fmt.Errorf("clearing session: %w: %v", core.ErrStoreOperationFailed, err)
	}
	s.hub.publish(false)
	return nil
}

func (s *BoltStore) ObservePresence(ctx context.Context) (<-chan bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readSession()
	if err != nil {
		return nil, err
	}
	present := rec != nil && rec.Address != "" && rec.PrivateKey != ""
	return s.hub.subscribe(ctx, present), nil
}

func (s *BoltStore) Address(ctx context.Context) (string, error) {
	rec, err := s.readSession()
	if err != nil || rec == nil {
		return "", err
	}
	return rec.Address, nil
}

func (s *BoltStore) PrivateKey(ctx context.Context) (string, error) {
	rec, err := s.readSession()
	if err != nil || rec == nil {
		return "", err
	}
	return rec.PrivateKey, nil
}

func (s *BoltStore) SavePending(ctx context.Context, pending core.PendingVerification) error {
	data, err := json.Marshal(pendingRecord{
		Email:          pending.Email,
		VerificationID: pending.VerificationID,
		RequestedAt:    pending.RequestedAt,
	})
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put(boltPendingKey, data)
	})
	if err != nil {
		return fmt.Errorf("saving pending verification: %w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

func (s *BoltStore) Pending(ctx context.Context) (core.PendingVerification, error) {
	var rec *pendingRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(boltBucket).Get(boltPendingKey)
		if data == nil {
			return nil
		}
		rec = &pendingRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return core.PendingVerification{}, fmt.Errorf("reading pending verification: %w", err)
	}
	if rec == nil {
		return core.PendingVerification{}, core.ErrNoPendingVerification
	}
	return core.PendingVerification{
		Email:          rec.Email,
		VerificationID: rec.VerificationID,
		RequestedAt:    rec.RequestedAt,
	}, nil
}

func (s *BoltStore) ClearPending(ctx context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(boltPendingKey)
	})
	if err != nil {
		return fmt.Errorf("clearing pending verification: %w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

func (s *BoltStore) readSession() (*sessionRecord, error) {
	var rec *sessionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(boltBucket).Get(boltSessionKey)
		if data == nil {
			return nil
		}
		rec = &sessionRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	return rec, nil
}
