package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func RequestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if userID, ok := c.Locals("user_id").(string); ok {
			fields = append(fields, zap.String("user_id", userID))
		}

		if err != nil {
			log.Error("http request failed", append(fields, zap.Error(err))...)
			return err
		}
		log.Info("http request", fields...)
		return nil
	}
}
