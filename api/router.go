// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package api exposes the HTTP surface of the ingestion service: the webhook
// receiver, the health report and the operator media retry endpoint.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"go.mau.fi/waingest"
	"go.mau.fi/waingest/health"
	"go.mau.fi/waingest/store"
	waLog "go.mau.fi/waingest/util/log"
)

// maxWebhookBodySize caps webhook request bodies. Gateway deliveries are small;
// anything larger is not a message event.
const maxWebhookBodySize = 4 << 20

// Engine is the subset of the ingestion engine the API uses.
type Engine interface {
	HandleWebhook(ctx context.Context, instanceID string, body []byte) (*waingest.Receipt, error)
	RetryMedia(ctx context.Context, messageID uuid.UUID) (bool, error)
}

// Server binds the engine and health monitor to the gin router.
type Server struct {
	engine  Engine
	monitor *health.Monitor
	log     waLog.Logger
}

func NewServer(engine Engine, monitor *health.Monitor, log waLog.Logger) *Server {
	if log == nil {
		log = waLog.Noop
	}
	return &Server{engine: engine, monitor: monitor, log: log}
}

// Router builds the HTTP handler with CORS and the API route group.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Accept", "Cache-Control", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Authorization", "Content-Type"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: true,
	}))

	apiRouter := router.Group("/api")
	{
		apiRouter.POST("/webhook/:instanceId", s.handleWebhook)
		apiRouter.GET("/health", s.handleHealth)
		apiRouter.POST("/media/:messageId/retry", s.handleMediaRetry)
	}
	return router
}

// handleWebhook runs the ingestion pipeline for one delivery. Skips and
// deduplications are 200s: the provider already delivered successfully, only
// transient persistence failures should make it retry.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	receipt, err := s.engine.HandleWebhook(c.Request.Context(), c.Param("instanceId"), body)
	switch {
	case errors.Is(err, waingest.ErrUnknownInstance), errors.Is(err, store.ErrInstanceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown instance"})
	case errors.Is(err, waingest.ErrMissingChatID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "delivery has no chat identifier"})
	case err != nil:
		s.log.Errorf("Webhook processing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process delivery"})
	default:
		c.JSON(http.StatusOK, receipt)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	report := s.monitor.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// handleMediaRetry requeues a failed media download. 409 when the record is not
// in failed state (pending, downloading or already succeeded).
func (s *Server) handleMediaRetry(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message ID"})
		return
	}
	retried, err := s.engine.RetryMedia(c.Request.Context(), messageID)
	switch {
	case errors.Is(err, store.ErrMediaFileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no media record for message"})
	case err != nil:
		s.log.Errorf("Media retry for message %s failed: %v", messageID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to requeue download"})
	case !retried:
		c.JSON(http.StatusConflict, gin.H{"error": "media record is not in failed state"})
	default:
		c.JSON(http.StatusOK, gin.H{"requeued": true})
	}
}
