package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"time"

	"github.com/golang/glog"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMessages = []byte("messages") // message id -> json
	bucketPairs    = []byte("pairs")    // per-pair sub bucket: message id -> nil
	bucketUsers    = []byte("users")    // per-user sub bucket: pair key -> last message id
)

// boltStore implements `MessageStore` on an embedded bbolt file.
// It backs the standalone mode, where a MySQL instance is not wanted.
//
// Message ids come from the messages bucket sequence, so id order is
// insertion order and createdAt ties resolve deterministically.
// The per-user index keeps the newest message id of every pair the user
// belongs to, updated inside the same write transaction as the insert.
type boltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (MessageStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, persistence(err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMessages, bucketPairs, bucketUsers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, persistence(err)
	}

	return &boltStore{db: db}, nil
}

func (s *boltStore) SaveMessage(ctx context.Context, sender, receiver, content, projectID string) (*Message, error) {
	if err := validateSend(sender, receiver, content); err != nil {
		return nil, err
	}

	pair := PairKey(sender, receiver)
	msg := &Message{
		Participants: pair,
		Sender:       sender,
		Content:      content,
		ProjectID:    projectID,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		messages := tx.Bucket(bucketMessages)

		seq, err := messages.NextSequence()
		if err != nil {
			return err
		}
		msg.ID = int64(seq)
		key := itob(msg.ID)

		raw, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := messages.Put(key, raw); err != nil {
			return err
		}

		pairBucket, err := tx.Bucket(bucketPairs).CreateBucketIfNotExists(pairBytes(pair))
		if err != nil {
			return err
		}
		if err := pairBucket.Put(key, nil); err != nil {
			return err
		}

		for _, uid := range pair {
			ub, err := tx.Bucket(bucketUsers).CreateBucketIfNotExists([]byte(uid))
			if err != nil {
				return err
			}
			if err := ub.Put(pairBytes(pair), key); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		glog.Errorf("bolt save message err: %v", err)
		return nil, persistence(err)
	}

	return msg, nil
}

func (s *boltStore) GetMessages(ctx context.Context, a, b string) ([]*Message, error) {
	pair := PairKey(a, b)

	msgs := []*Message{}
	if err := s.db.View(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketPairs).Bucket(pairBytes(pair))
		if pb == nil {
			return nil
		}
		messages := tx.Bucket(bucketMessages)

		// Keys are big endian ids, so a forward cursor walk is already
		// insertion order, which is createdAt order.
		return pb.ForEach(func(k, _ []byte) error {
			m, err := loadMessage(messages, k)
			if err != nil {
				return err
			}
			msgs = append(msgs, m)
			return nil
		})
	}); err != nil {
		glog.Errorf("bolt get messages err: %v", err)
		return nil, persistence(err)
	}

	return msgs, nil
}

func (s *boltStore) ListConversations(ctx context.Context, uid string) ([]*Message, error) {
	msgs := []*Message{}
	if err := s.db.View(func(tx *bolt.Tx) error {
		ub := tx.Bucket(bucketUsers).Bucket([]byte(uid))
		if ub == nil {
			return nil
		}
		messages := tx.Bucket(bucketMessages)

		return ub.ForEach(func(_, last []byte) error {
			m, err := loadMessage(messages, last)
			if err != nil {
				return err
			}
			msgs = append(msgs, m)
			return nil
		})
	}); err != nil {
		glog.Errorf("bolt list conversations err: %v", err)
		return nil, persistence(err)
	}

	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID > msgs[j].ID
	})

	return msgs, nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

func loadMessage(messages *bolt.Bucket, key []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(messages.Get(key), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func pairBytes(pair [2]string) []byte {
	// NUL cannot appear in an identifier, so the join is unambiguous.
	return []byte(pair[0] + "\x00" + pair[1])
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
