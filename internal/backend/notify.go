package backend

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultChannel is the Postgres NOTIFY channel carrying device ids.
const DefaultChannel = "device_changes"

// PGNotifier signals device changes with pg_notify so that every instance
// listening on the channel republishes them to its local feed.
type PGNotifier struct {
	db      *gorm.DB
	channel string
}

func NewPGNotifier(db *gorm.DB, channel string) *PGNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &PGNotifier{db: db, channel: channel}
}

func (n *PGNotifier) Notify(ctx context.Context, deviceID string) error {
	return n.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", n.channel, deviceID).Error
}

// Listen receives device ids from the NOTIFY channel and publishes the
// reloaded devices until ctx is cancelled.
func Listen(ctx context.Context, dsn, channel string, svc *Service) error {
	if channel == "" {
		channel = DefaultChannel
	}

	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logrus.WithError(err).WithField("event", ev).Warn("Change listener connection event.")
		}
	})
	defer listener.Close()

	if err := listener.Listen(channel); err != nil {
		return err
	}
	logrus.WithField("channel", channel).Info("Listening for device change notifications.")

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				// Reconnected; notifications sent while down are lost.
				logrus.Warn("Change listener reconnected, some notifications may have been missed.")
				continue
			}
			if err := svc.PublishChange(ctx, n.Extra); err != nil {
				logrus.WithError(err).WithField("device_id", n.Extra).Error("Failed to republish device change.")
			}
		case <-time.After(90 * time.Second):
			go func() {
				if err := listener.Ping(); err != nil {
					logrus.WithError(err).Warn("Change listener ping failed.")
				}
			}()
		}
	}
}
