package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ppe_realtime/internal/config"
	"ppe_realtime/internal/logging"
	"ppe_realtime/internal/notify"
	"ppe_realtime/internal/ppews"
	"ppe_realtime/internal/realtime"
)

// watchFlags holds the flags that override PPE_* settings
type watchFlags struct {
	configFile string
	url        string
	token      string
	userID     string
	department string
	admin      bool
	manager    bool
	quiet      bool
	polling    bool
	retry      int
}

// flagEnv maps each override flag to the setting it replaces
var flagEnv = map[string]string{
	"url":        "PPE_WS_URL",
	"token":      "PPE_TOKEN",
	"user":       "PPE_USER_ID",
	"department": "PPE_DEPARTMENT_ID",
	"admin":      "PPE_IS_ADMIN",
	"manager":    "PPE_IS_MANAGER",
	"polling":    "PPE_USE_POLLING",
	"retry":      "PPE_RETRY_SEC",
}

func main() {
	var flags watchFlags
	root := &cobra.Command{
		Use:   "ppe-watch",
		Short: "Print PPE events as they happen",
		Long:  "ppe-watch connects to the PPE push-event server, joins the room for the given identity and logs a notification for every event.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags)
		},
	}

	f := root.Flags()
	f.StringVar(&flags.configFile, "config", "", "INI file with a [watch] section")
	f.StringVar(&flags.url, "url", "", "Socket.IO endpoint, e.g. http://localhost:8080/socket.io/")
	f.StringVar(&flags.token, "token", "", "Bearer token")
	f.StringVar(&flags.userID, "user", "", "User id")
	f.StringVar(&flags.department, "department", "", "Department id")
	f.BoolVar(&flags.admin, "admin", false, "Join the admin room")
	f.BoolVar(&flags.manager, "manager", false, "Join the department room")
	f.BoolVar(&flags.quiet, "quiet", false, "Do not print notifications")
	f.BoolVar(&flags.polling, "polling", false, "Allow HTTP long-polling")
	f.IntVar(&flags.retry, "retry", 5, "Seconds between reconnect attempts")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, flags watchFlags) error {
	for name, env := range flagEnv {
		if cmd.Flags().Changed(name) {
			if err := os.Setenv(env, cmd.Flags().Lookup(name).Value.String()); err != nil {
				return err
			}
		}
	}

	cfg, err := config.LoadWatch(flags.configFile)
	if err != nil {
		return err
	}
	if flags.quiet {
		cfg.ShowNotifications = false
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	log := logging.Component(logger, "ppe-watch")

	client := realtime.NewClient(&realtime.SocketIODialer{
		URL:              cfg.URL,
		HandshakeTimeout: time.Duration(cfg.HandshakeTimeout) * time.Second,
		UsePolling:       cfg.UsePolling,
	}, logger.WithField("component", "realtime"))

	sub := ppews.New(client, notify.NewLogNotifier(logrus.NewEntry(logger)), logrus.NewEntry(logger))

	var count atomic.Int64
	counter := func(topic realtime.Topic) ppews.Callback {
		return func(ev realtime.Event) {
			seen := count.Add(1)
			log.WithFields(logrus.Fields{
				"topic":   topic,
				"eventId": ev["eventId"],
				"seen":    seen,
			}).Debug("Event received")
		}
	}

	sub.Mount(ppews.Options{
		UserID:            cfg.UserID,
		DepartmentID:      cfg.DepartmentID,
		IsAdmin:           cfg.IsAdmin,
		IsManager:         cfg.IsManager,
		Token:             cfg.Token,
		ShowNotifications: cfg.ShowNotifications,
		OnDistributed:     counter(realtime.TopicDistributed),
		OnReturned:        counter(realtime.TopicReturned),
		OnReported:        counter(realtime.TopicReported),
		OnOverdue:         counter(realtime.TopicOverdue),
		OnLowStock:        counter(realtime.TopicLowStock),
	})

	room, ok := sub.Room()
	fields := logrus.Fields{"url": cfg.URL}
	if ok {
		fields["room"] = room.Name()
	}
	log.WithFields(fields).Info("Watching PPE events, press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the first dial may fail and the server may go away later
	go sub.KeepConnected(ctx, time.Duration(cfg.RetryInterval)*time.Second)
	<-ctx.Done()

	sub.Unmount()
	sub.Disconnect()
	fmt.Fprintf(cmd.OutOrStdout(), "received %d events\n", count.Load())
	return nil
}
