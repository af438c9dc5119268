package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"codecollab/server/internal/api"
	"codecollab/server/internal/audit"
	"codecollab/server/internal/room"
	"codecollab/server/internal/session"
	"codecollab/server/internal/ws"
)

func main() {
	_ = godotenv.Load()

	level, err := logrus.ParseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// The listening port comes from the first positional argument,
	// falling back to the environment.
	port := getenv("PORT", "8080")
	if len(os.Args) > 1 && os.Args[1] != "" {
		port = os.Args[1]
	}

	auditPath := getenv("AUDIT_DB_PATH", "./data/audit.db")
	trail, err := audit.New(auditPath)
	if err != nil {
		logrus.WithError(err).Warn("Audit trail disabled: failed to open database")
		trail = nil
	} else {
		defer trail.Close()
	}

	store := room.NewStore()

	coord := session.New(store, recorderOrNil(trail))
	go coord.Run()

	if os.Getenv("APP_ENV") != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", func(c *gin.Context) {
		ws.ServeWs(coord, c.Writer, c.Request)
	})
	api.New(coord, store, trail).Register(router)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logrus.Info("Shutting down server...")
		if trail != nil {
			trail.Close()
		}
		os.Exit(0)
	}()

	logrus.WithFields(logrus.Fields{
		"port":     port,
		"audit_db": auditPath,
	}).Info("Collab server starting")

	if err := router.Run(":" + port); err != nil {
		logrus.WithError(err).Fatal("Server failed")
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// A typed nil *audit.Store must not become a non-nil AuditRecorder.
func recorderOrNil(trail *audit.Store) session.AuditRecorder {
	if trail == nil {
		return nil
	}
	return trail
}
