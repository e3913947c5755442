package handlers

import (
	"github.com/gofiber/fiber/v2"

	"bounty-session-service/services"
)

func SetupSessionRoutes(app *fiber.App, sessionService *services.SessionService) {
	app.Post("/v1/session/start", func(c *fiber.Ctx) error {
		var req struct {
			UserID          string  `json:"userId"`
			BountyID        string  `json:"bountyId"`
			DeviceID        string  `json:"deviceId"`
			BountyAmountUSD float64 `json:"bountyAmountUsd"`
			PayoutIntentID  *string `json:"payoutIntentId"`
		}
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}

		res, err := sessionService.Start(c.Context(), req.UserID, req.BountyID, req.DeviceID, req.BountyAmountUSD, req.PayoutIntentID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"sessionId":       res.Session.ID,
			"state":           res.Session.State,
			"requiredSeconds": res.Session.RequiredSeconds,
			"expiresAt":       res.Session.ExpiresAt,
			"token":           res.Token,
		})
	})

	app.Post("/v1/session/ping", func(c *fiber.Ctx) error {
		var req struct {
			ElapsedSeconds float64 `json:"elapsedSeconds"`
			Token          string  `json:"token"`
		}
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}

		res, err := sessionService.ReportProgress(c.Context(), bearerToken(c, req.Token), req.ElapsedSeconds)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"state":            res.Session.State,
			"requiredSeconds":  res.Session.RequiredSeconds,
			"qualifiedSeconds": res.Session.QualifiedSeconds,
			"ready":            res.Ready,
			"token":            res.Token,
		})
	})

	app.Post("/v1/session/finish", func(c *fiber.Ctx) error {
		var req struct {
			Outcome        string  `json:"outcome"`
			PayoutIntentID *string `json:"payoutIntentId"`
			Token          string  `json:"token"`
		}
		if err := parseBody(c, &req); err != nil {
			return respondError(c, err)
		}

		res, err := sessionService.Finish(c.Context(), bearerToken(c, req.Token), req.Outcome, req.PayoutIntentID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"state":          res.Session.State,
			"payoutIntentId": res.Session.PayoutIntentID,
			"cooldownUntil":  res.Session.CooldownUntil,
		})
	})
}
