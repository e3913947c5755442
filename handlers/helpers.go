package handlers

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"bounty-session-service/services"
)

// bearerToken pulls the session credential from the Authorization header,
// falling back to the token field of the JSON body.
func bearerToken(c *fiber.Ctx, bodyToken string) string {
	authHeader := c.Get("Authorization")
	if authHeader != "" {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			// no "Bearer " prefix — accept the raw value
			token = authHeader
		}
		return token
	}
	return bodyToken
}

// parseBody decodes the JSON body into out. An empty body is accepted — some
// endpoints carry everything in the Authorization header.
func parseBody(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return services.InvalidRequestError("invalid JSON body")
	}
	return nil
}

// respondError maps a service error to the wire shape; anything unrecognized
// becomes a 500 "internal".
func respondError(c *fiber.Ctx, err error) error {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		body := fiber.Map{"code": svcErr.Code, "message": svcErr.Message}
		if len(svcErr.Details) > 0 {
			body["details"] = svcErr.Details
		}
		return c.Status(svcErr.Status).JSON(fiber.Map{"error": body})
	}

	log.Printf("❌ [HTTP] unhandled error on %s: %v", c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fiber.Map{"code": "internal", "message": "internal server error"},
	})
}
