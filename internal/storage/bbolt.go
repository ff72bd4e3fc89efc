package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var (
	bucketPresence = []byte("presence")
	bucketSessions = []byte("sessions")
)

// BoltPresence is an embedded presence store for a single relay process.
// Every operation runs in one bbolt transaction.
type BoltPresence struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBoltPresence(path string) (*BoltPresence, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open bbolt db")
	}

	if err := db.Update(createBuckets); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create buckets")
	}

	return &BoltPresence{db: db, now: time.Now}, nil
}

func createBuckets(tx *bbolt.Tx) error {
	for _, name := range [][]byte{bucketPresence, bucketSessions} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltPresence) Close() error {
	return s.db.Close()
}

func (s *BoltPresence) Ping(context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketPresence) == nil {
			return errors.New("presence bucket is missing")
		}
		return nil
	})
}

func (s *BoltPresence) MarkOnline(_ context.Context, userID, connID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		sessions, err := getSessions(tx, userID)
		if err != nil {
			return err
		}
		if len(sessions.ConnIDs) == 0 {
			sessions.Since = s.now().Unix()
		}
		sessions.Add(connID)

		if err := putSessions(tx, sessions); err != nil {
			return err
		}
		return tx.Bucket(bucketPresence).Put([]byte(userID), []byte(onlineMarker))
	})
	return errors.Wrapf(s.mapErr(err), "mark %s online", userID)
}

func (s *BoltPresence) MarkOffline(_ context.Context, userID, connID string) (bool, error) {
	var offline bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		sessions, err := getSessions(tx, userID)
		if err != nil {
			return err
		}

		if !sessions.Remove(connID) {
			return putSessions(tx, sessions)
		}

		offline = true
		return deleteUser(tx, userID)
	})
	if err != nil {
		return false, errors.Wrapf(s.mapErr(err), "mark %s offline", userID)
	}
	return offline, nil
}

func (s *BoltPresence) ForceOffline(_ context.Context, userID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return deleteUser(tx, userID)
	})
	return errors.Wrapf(s.mapErr(err), "force %s offline", userID)
}

func (s *BoltPresence) ListOnline(context.Context) ([]string, error) {
	var users []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPresence).ForEach(func(k, _ []byte) error {
			users = append(users, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(s.mapErr(err), "list online users")
	}
	return users, nil
}

func (s *BoltPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	var online bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		online = tx.Bucket(bucketPresence).Get([]byte(userID)) != nil
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(s.mapErr(err), "check %s online", userID)
	}
	return online, nil
}

func (s *BoltPresence) Sessions(_ context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		sessions, err := getSessions(tx, userID)
		if err != nil {
			return err
		}
		ids = sessions.ConnIDs
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(s.mapErr(err), "list %s sessions", userID)
	}
	return ids, nil
}

func (s *BoltPresence) WipeAll(context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketPresence, bucketSessions} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
		}
		return createBuckets(tx)
	})
	return errors.Wrap(s.mapErr(err), "wipe presence")
}

func (s *BoltPresence) mapErr(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func getSessions(tx *bbolt.Tx, userID string) (*DBSessions, error) {
	sessions := &DBSessions{UserID: userID}
	data := tx.Bucket(bucketSessions).Get([]byte(userID))
	if data == nil {
		return sessions, nil
	}
	if err := sessions.UnmarshalBinary(data); err != nil {
		return nil, errors.Wrapf(err, "decode sessions of %s", userID)
	}
	return sessions, nil
}

func putSessions(tx *bbolt.Tx, sessions *DBSessions) error {
	data, err := sessions.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Bucket(bucketSessions).Put(sessions.Key(), data)
}

func deleteUser(tx *bbolt.Tx, userID string) error {
	if err := tx.Bucket(bucketSessions).Delete([]byte(userID)); err != nil {
		return err
	}
	return tx.Bucket(bucketPresence).Delete([]byte(userID))
}
