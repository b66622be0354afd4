package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleJobLogStream sends the log entries of a job over a websocket as they
// are written. The connection is closed once the job has finished and all its
// entries were sent.
func (s *Server) handleJobLogStream(c *gin.Context) {
	id, ok := s.uuidParam(c, "uuid")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()
	log := s.log.WithFields(logrus.Fields{"job_uuid": job.UUID, "remote": c.ClientIP()})

	// Reading is needed to notice a client that went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.logPoll)
	defer ticker.Stop()
	var lastID int64
	for {
		current, err := s.jobs.Get(ctx, id)
		if err != nil {
			log.WithError(err).Warn("Reloading job failed")
			return
		}
		entries, err := s.jobs.Logs(ctx, current, lastID)
		if err != nil {
			log.WithError(err).Warn("Loading job log failed")
			return
		}
		for _, entry := range entries {
			if err := conn.WriteJSON(entry); err != nil {
				log.WithError(err).Debug("Websocket client went away")
				return
			}
			lastID = entry.ID
		}

		if current.State.IsTerminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(current.State))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}
