package directory

import (
	"context"
	"database/sql"

	"github.com/golang/glog"
)

const findProfileSQL = "SELECT firebase_uid, name, profile_photo, fcm_token FROM users WHERE firebase_uid = ?"

type mysqlClient struct {
	db *sql.DB
}

// NewMysqlClient reads profiles from the marketplace `users` table.
func NewMysqlClient(db *sql.DB) Client {
	return &mysqlClient{db: db}
}

func (c *mysqlClient) FindProfile(ctx context.Context, uid string) (*Profile, error) {
	row := c.db.QueryRowContext(ctx, findProfileSQL, uid)

	var p Profile
	var photo, token sql.NullString
	if err := row.Scan(&p.UID, &p.Name, &photo, &token); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		glog.Errorf("find profile scan err: %v", err)
		return nil, err
	}
	p.PhotoURL = photo.String
	p.PushToken = token.String
	return &p, nil
}
