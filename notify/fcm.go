package notify

import (
	"context"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/golang/glog"
	"google.golang.org/api/option"
)

// fcmSender delivers pushes through Firebase Cloud Messaging, the same
// project the mobile clients register their tokens with.
type fcmSender struct {
	client *messaging.Client
}

func NewFCMSender(ctx context.Context, credentialsFile string) (PushSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, err
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, err
	}
	return &fcmSender{client: client}, nil
}

func (s *fcmSender) Send(ctx context.Context, note *PushNote) error {
	_, err := s.client.Send(ctx, &messaging.Message{
		Token: note.Token,
		Notification: &messaging.Notification{
			Title: note.Title,
			Body:  note.Body,
		},
		Data: note.Data,
	})
	return err
}

// NopSender is used when no FCM credentials are configured, e.g. in
// standalone dev runs. The online channel still works.
type NopSender struct{}

func (NopSender) Send(ctx context.Context, note *PushNote) error {
	glog.V(5).Infof("nop push: title=%q body=%q", note.Title, note.Body)
	return nil
}
