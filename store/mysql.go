package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/golang/glog"
)

const (
	insertMessageSQL = "INSERT INTO messages (participant_lo,participant_hi,sender,content,project_id,create_time) " +
		"VALUES (?,?,?,?,?,?)"

	getMessagesSQL = "SELECT id,participant_lo,participant_hi,sender,content,project_id,create_time " +
		"FROM messages WHERE participant_lo = ? AND participant_hi = ? " +
		"ORDER BY create_time ASC, id ASC"

	// Newest row per pair: rank rows inside each pair by create_time,
	// keep rank 1, then order the survivors newest first.
	listConversationsSQL = "SELECT id,participant_lo,participant_hi,sender,content,project_id,create_time FROM (" +
		"SELECT m.*, ROW_NUMBER() OVER (PARTITION BY participant_lo, participant_hi ORDER BY create_time DESC, id DESC) AS rn " +
		"FROM messages m WHERE participant_lo = ? OR participant_hi = ?" +
		") t WHERE t.rn = 1 ORDER BY create_time DESC, id DESC"
)

// mysqlStore implements `MessageStore` on the marketplace MySQL instance.
type mysqlStore struct {
	*sql.DB
}

func NewMysqlStore(db *sql.DB) MessageStore {
	return &mysqlStore{db}
}

func (s *mysqlStore) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error, opts ...*sql.TxOptions) error {
	var txOpts *sql.TxOptions
	if len(opts) == 0 {
		txOpts = &sql.TxOptions{
			Isolation: sql.LevelRepeatableRead,
			ReadOnly:  false,
		}
	} else {
		txOpts = opts[0]
	}
	tx, err := s.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	if err := exec(ctx, tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("failed to rollback: %v", err2)
		}
		return err
	}

	return tx.Commit()
}

func (s *mysqlStore) SaveMessage(ctx context.Context, sender, receiver, content, projectID string) (*Message, error) {
	if err := validateSend(sender, receiver, content); err != nil {
		return nil, err
	}

	pair := PairKey(sender, receiver)
	msg := &Message{
		Participants: pair,
		Sender:       sender,
		Content:      content,
		ProjectID:    projectID,
		// DATETIME(6) resolution; keep the in-memory copy identical
		// to what a later read would return.
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	var project sql.NullString
	if projectID != "" {
		project = sql.NullString{String: projectID, Valid: true}
	}

	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertMessageSQL,
			pair[0], pair[1], msg.Sender, msg.Content, project, msg.CreatedAt)
		if err != nil {
			glog.Errorf("insert message exec err: %v", err)
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		msg.ID = id
		return nil
	}); err != nil {
		return nil, persistence(err)
	}

	return msg, nil
}

func (s *mysqlStore) GetMessages(ctx context.Context, a, b string) ([]*Message, error) {
	pair := PairKey(a, b)

	msgs := []*Message{}
	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, getMessagesSQL, pair[0], pair[1])
		if err != nil {
			glog.Errorf("get messages query err: %v", err)
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				glog.Errorf("get messages scan err: %v", err)
				return err
			}
			msgs = append(msgs, m)
		}
		return rows.Err()
	}); err != nil {
		return nil, persistence(err)
	}

	return msgs, nil
}

func (s *mysqlStore) ListConversations(ctx context.Context, uid string) ([]*Message, error) {
	msgs := []*Message{}
	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, listConversationsSQL, uid, uid)
		if err != nil {
			glog.Errorf("list conversations query err: %v", err)
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				glog.Errorf("list conversations scan err: %v", err)
				return err
			}
			msgs = append(msgs, m)
		}
		return rows.Err()
	}); err != nil {
		return nil, persistence(err)
	}

	return msgs, nil
}

func (s *mysqlStore) Close() error {
	return s.DB.Close()
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var m Message
	var project sql.NullString
	if err := rows.Scan(&m.ID, &m.Participants[0], &m.Participants[1],
		&m.Sender, &m.Content, &project, &m.CreatedAt); err != nil {
		return nil, err
	}
	if project.Valid {
		m.ProjectID = project.String
	}
	return &m, nil
}
