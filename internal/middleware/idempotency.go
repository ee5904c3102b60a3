package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const CorrelationIDHeader = "X-Correlation-ID"

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyMiddleware replays the first settled response of a mutation for every
// retry carrying the same X-Correlation-ID within ttl. Keys are scoped per owner so
// ids from different users never collide. A nil client disables replay.
//
// 202 Accepted is not settled: the remote write may still roll back, and a retry must
// be able to resubmit it.
func IdempotencyMiddleware(redisClient *redis.Client, ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if redisClient == nil {
			return c.Next()
		}
		switch c.Method() {
		case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
		default:
			return c.Next()
		}

		correlationID := c.Get(CorrelationIDHeader)
		if correlationID == "" {
			// No correlation ID = no idempotency check
			return c.Next()
		}

		key := fmt.Sprintf("fitsync:idempotency:%s:%s:%s", GetOwnerID(c), c.Method(), correlationID)
		ctx := c.UserContext()

		if raw, err := redisClient.Get(ctx, key).Bytes(); err == nil {
			var cached cachedResponse
			if err := json.Unmarshal(raw, &cached); err == nil {
				c.Set("X-Idempotent-Replay", "true")
				c.Set(fiber.HeaderContentType, cached.ContentType)
				return c.Status(cached.Status).Send(cached.Body)
			}
		} else if err != redis.Nil {
			log.WithError(err).Warn("idempotency lookup failed, processing request")
		}

		if err := c.Next(); err != nil {
			return err
		}

		// Cache settled successes only
		status := c.Response().StatusCode()
		if status < 200 || status > 299 || status == fiber.StatusAccepted {
			return nil
		}
		raw, err := json.Marshal(cachedResponse{
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		})
		if err != nil {
			return nil
		}

		setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := redisClient.Set(setCtx, key, raw, ttl).Err(); err != nil {
			log.WithError(err).WithField("correlation_id", correlationID).Warn("failed to cache idempotent response")
		}
		return nil
	}
}
